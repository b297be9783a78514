//go:build linux

package processstate

import (
	stderrors "errors"

	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
)

// IsProcessRunning probes pid with signal 0. A zombie that has not been
// reaped yet still counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, unix.ESRCH):
		return false, nil
	case stderrors.Is(err, unix.EPERM):
		// Exists, owned by someone else.
		return true, nil
	}
	return false, errors.NewOSError("failed to probe process", err).WithContext("pid", pid)
}
