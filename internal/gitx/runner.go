package gitx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandRunner executes git commands.
// This interface allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns the trimmed stdout.
	// workDir is the working directory for the command.
	// If the command fails, stderr/stdout becomes the error message.
	Run(ctx context.Context, workDir string, name string, args ...string) (stdout string, err error)
}

// ExecRunner is the default CommandRunner using exec.CommandContext.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command using exec.CommandContext.
func (r *ExecRunner) Run(ctx context.Context, workDir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			errMsg = err.Error()
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return errMsg, &CommandError{
			Command:  name,
			Args:     args,
			WorkDir:  workDir,
			ExitCode: exitCode,
			Output:   errMsg,
			Err:      err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CommandError represents a command execution error. ExitCode is the
// process exit status, or -1 when the command never ran.
type CommandError struct {
	Command  string
	Args     []string
	WorkDir  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
