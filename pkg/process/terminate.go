//go:build linux

package process

import (
	"context"
	stderrors "errors"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/processstate"
)

const (
	terminationPollInterval = 50 * time.Millisecond
	killWaitTimeout         = 5 * time.Second
)

// ExitStatus reports a finished process the way a shell does: the exit code,
// or 128 plus the signal number when a signal ended it.
func ExitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

// SendTerminationSignal sends SIGTERM to pid. For a box pid this is the init
// of its PID namespace, whose exit takes the rest of the box with it.
func SendTerminationSignal(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func KillProcess(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// Terminate sends SIGTERM and escalates to SIGKILL when pid is still alive
// after grace. It returns once pid is gone. A process that is already gone is
// not an error.
func Terminate(ctx context.Context, pid int, grace time.Duration, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if pid <= 0 {
		return errors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}

	logger.Infof("Terminating process, pid: %d, grace: %v", pid, grace)

	if err := SendTerminationSignal(pid); err != nil {
		if stderrors.Is(err, unix.ESRCH) {
			logger.Debugf("Process already gone, pid: %d", pid)
			return nil
		}
		return errors.NewProcessError("failed to send termination signal", err).WithContext("pid", pid)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	ticker := time.NewTicker(terminationPollInterval)
	defer ticker.Stop()

	killed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			running, err := processstate.IsProcessRunning(pid)
			if err != nil {
				return errors.NewProcessError("failed to check process state", err).WithContext("pid", pid)
			}
			if !running {
				logger.Infof("Process terminated, pid: %d, killed: %v", pid, killed)
				return nil
			}
		case <-timer.C:
			if killed {
				return errors.NewProcessError("process still running after SIGKILL", nil).
					WithContext("pid", pid).WithContext("timeout", killWaitTimeout)
			}
			logger.Warnf("Process did not stop within grace period, killing, pid: %d, grace: %v", pid, grace)
			if err := KillProcess(pid); err != nil {
				if stderrors.Is(err, unix.ESRCH) {
					return nil
				}
				return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
			}
			killed = true
			timer.Reset(killWaitTimeout)
		}
	}
}
