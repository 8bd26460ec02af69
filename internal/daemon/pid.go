package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePID writes the process ID to a file via a temp file and rename, so a
// concurrent reader never sees a partial number
func WritePID(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadPID reads the process ID from a file
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID removes the PID file
func RemovePID(path string) error {
	return os.Remove(path)
}

// IsProcessRunning checks if a process with the given PID is running
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; we need to send signal 0
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// CheckExistingDaemon checks if a daemon is already running. A stale or
// unreadable PID file is removed.
func CheckExistingDaemon(pidFile string) (bool, int, error) {
	pid, err := ReadPID(pidFile)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err == nil && IsProcessRunning(pid) {
		return true, pid, nil
	}

	if rmErr := RemovePID(pidFile); rmErr != nil && !os.IsNotExist(rmErr) {
		return false, 0, fmt.Errorf("failed to remove stale PID file: %w", rmErr)
	}
	return false, 0, nil
}
