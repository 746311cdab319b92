// Package errors provides structured error types for conductor.
package errors

import (
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for conductor.
const (
	// Request errors
	CodeBadRequest Code = "BAD_REQUEST"
	CodeBodyTooBig Code = "BODY_TOO_LARGE"

	// Task errors
	CodeTaskNotFound Code = "TASK_NOT_FOUND"
	CodeRepoNotFound Code = "REPO_NOT_FOUND"

	// Artifact errors
	CodeDiffNotReady Code = "DIFF_NOT_READY"

	// Git / hosting errors
	CodeGitFailed     Code = "GIT_FAILED"
	CodeHostingFailed Code = "HOSTING_FAILED"

	// Store errors
	CodeStoreFailed Code = "STORE_FAILED"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryTooLarge
	CategoryInternal
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeBadRequest:    CategoryBadRequest,
	CodeBodyTooBig:    CategoryTooLarge,
	CodeTaskNotFound:  CategoryNotFound,
	CodeRepoNotFound:  CategoryNotFound,
	CodeDiffNotReady:  CategoryNotFound,
	CodeGitFailed:     CategoryInternal,
	CodeHostingFailed: CategoryInternal,
	CodeStoreFailed:   CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryTooLarge:
		return 413
	default:
		return 500
	}
}

// ConductorError is the structured error type for conductor.
type ConductorError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *ConductorError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ConductorError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error.
func (e *ConductorError) HTTPStatus() int {
	return codeCategories[e.Code].HTTPStatus()
}

// New creates a ConductorError with the given code and message.
func New(code Code, what string) *ConductorError {
	return &ConductorError{Code: code, What: what}
}

// Wrap creates a ConductorError wrapping a cause.
func Wrap(code Code, what string, cause error) *ConductorError {
	return &ConductorError{Code: code, What: what, Cause: cause}
}

// ErrTaskNotFound returns a task-not-found error for the given id.
func ErrTaskNotFound(id string) *ConductorError {
	return &ConductorError{Code: CodeTaskNotFound, What: "task not found", Why: id}
}

// ErrRepoNotFound returns a repository-not-found error for the given id.
func ErrRepoNotFound(id string) *ConductorError {
	return &ConductorError{Code: CodeRepoNotFound, What: "repository not found", Why: id}
}

// ErrDiffNotReady returns a diff-not-captured error for the given repo.
func ErrDiffNotReady(repoID string) *ConductorError {
	return &ConductorError{Code: CodeDiffNotReady, What: "diff not ready", Why: repoID}
}

// ErrBadRequest returns a request-validation error.
func ErrBadRequest(why string) *ConductorError {
	return &ConductorError{Code: CodeBadRequest, What: "invalid request", Why: why}
}
