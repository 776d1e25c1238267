//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setpgid is a no-op on Windows, which has no POSIX process groups; only
// the single process itself is terminated on timeout or kill.
func setpgid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// killGroup kills just the process itself, since Windows has no process
// group signal equivalent available without additional job-object setup.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

// decodeExitError reports only the exit code on Windows; there is no
// signal concept, so Crashed is never distinguished from Failed there.
func decodeExitError(exitErr *exec.ExitError) (exitCode, signal int) {
	return exitErr.ExitCode(), 0
}
