package main

import (
	"os"
	"strconv"
	"strings"
)

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePidFile(path string) {
	os.Remove(path)
}

// daemonAlive reports whether the PID file names a live process. A
// stale file from a crashed daemon reads as not alive.
func daemonAlive(path string) (int, bool) {
	pid, err := readPidFile(path)
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}
