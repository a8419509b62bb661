//go:build !windows

package server

import (
	"os/exec"
	"syscall"
)

// buildShellCommand runs the configured command line through the shell so
// specs can use arguments and redirection.
func buildShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// setProcGroup puts the child in its own process group so signals reach the
// whole server tree.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
