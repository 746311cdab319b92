//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// shellCommand runs the command string through the shell so users can
// write pipelines and quoting the way they would interactively.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("sh", "-c", command)
}

// setProcAttr puts the child in its own process group so signals reach
// any grandchildren it spawns.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup sends SIGTERM to the entire process group.
// Negative PID signals the group; the group id equals the leader's PID.
func terminateGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGTERM)
	if err == syscall.ESRCH {
		// Already gone
		return nil
	}
	return err
}

// resultFrom extracts the exit code and, for signal deaths, the signal
// name from a finished command.
func resultFrom(cmd *exec.Cmd, waitErr error) Result {
	ps := cmd.ProcessState
	if ps == nil {
		return Result{ExitCode: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Result{ExitCode: -1, Signal: ws.Signal().String()}
	}
	return Result{ExitCode: ps.ExitCode()}
}
