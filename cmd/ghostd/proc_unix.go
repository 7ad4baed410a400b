//go:build !windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// processAlive checks for the process with signal 0; FindProcess always
// succeeds on Unix.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func terminateProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}

// spawnDetached re-executes the binary in its own session so it
// survives the parent terminal closing.
func spawnDetached(exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	return cmd.Start()
}
