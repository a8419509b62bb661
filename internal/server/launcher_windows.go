//go:build windows

package server

import (
	"os"
	"os/exec"
	"syscall"
)

func buildShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

// setProcGroup is a no-op on Windows; termination goes through the process
// handle instead of a process group signal.
func setProcGroup(cmd *exec.Cmd) {}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Windows; Signal probes the handle.
	return p.Signal(syscall.Signal(0)) == nil
}

func terminateGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

func killGroup(pid int) error {
	return terminateGroup(pid)
}
