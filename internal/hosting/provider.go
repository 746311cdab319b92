// Package hosting provides a unified interface for git hosting providers
// (GitHub, GitLab): pull-request creation, default-branch detection, and
// token-compatible URL rewriting for clone and push.
package hosting

import (
	"context"
)

// ProviderType identifies which hosting provider is in use.
type ProviderType string

const (
	ProviderGitHub  ProviderType = "github"
	ProviderGitLab  ProviderType = "gitlab"
	ProviderUnknown ProviderType = "unknown"
)

// Provider is the interface for git hosting providers.
// Implementations exist for GitHub (go-github) and GitLab (client-go).
type Provider interface {
	// CreatePR creates a pull request / merge request.
	CreatePR(ctx context.Context, opts PRCreateOptions) (*PR, error)
	// FindPRByBranch returns an existing open PR for the head branch, or nil.
	FindPRByBranch(ctx context.Context, branch string) (*PR, error)
	// DefaultBranch returns the repository's default branch.
	DefaultBranch(ctx context.Context) (string, error)

	Name() ProviderType
	OwnerRepo() (string, string)
}

// PR represents a pull request / merge request.
type PR struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"` // open, closed, merged
	HeadBranch string `json:"head_branch"`
	BaseBranch string `json:"base_branch"`
	HTMLURL    string `json:"html_url"`
}

// PRCreateOptions for creating a PR / merge request.
type PRCreateOptions struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"` // Source branch
	Base  string `json:"base"` // Target branch
}
