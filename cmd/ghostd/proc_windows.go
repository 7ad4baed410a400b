//go:build windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// processAlive reports whether the PID can be opened. Signal probes are
// not available on Windows.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	process.Release()
	return true
}

// terminateProcess kills the daemon; Windows has no SIGTERM delivery
// for unrelated processes.
func terminateProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}

// spawnDetached starts the daemon without a console window.
func spawnDetached(exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}
	return cmd.Start()
}
