//go:build !windows

package signaler

import (
	"errors"
	"fmt"
)

// The Windows tree walk has no POSIX backend; POSIX hosts use PosixRelay.

func snapshotProcesses() ([]ProcEntry, error) {
	return nil, fmt.Errorf("signaler: process snapshot: %w", errors.ErrUnsupported)
}

func terminateProcess(pid int) error {
	return fmt.Errorf("signaler: terminate %d: %w", pid, errors.ErrUnsupported)
}
