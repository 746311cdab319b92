//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

// setProcAttr is a no-op on Windows. Windows uses job objects instead
// of POSIX process groups.
func setProcAttr(cmd *exec.Cmd) {}

// terminateGroup falls back to killing the direct child on Windows;
// there is no SIGTERM equivalent to deliver to a group.
func terminateGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

// resultFrom extracts the exit code from a finished command. Windows
// has no signal deaths to report.
func resultFrom(cmd *exec.Cmd, waitErr error) Result {
	ps := cmd.ProcessState
	if ps == nil {
		return Result{ExitCode: -1}
	}
	return Result{ExitCode: ps.ExitCode()}
}
