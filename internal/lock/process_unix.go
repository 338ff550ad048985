//go:build !windows

package lock

import (
	"errors"
	"os"
	"syscall"
)

// processExists probes pid with signal 0. EPERM still means a live process
// owned by someone else.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
