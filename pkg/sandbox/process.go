//go:build linux

package sandbox

import (
	stderrors "errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/process"
	"github.com/izoli/izoli/pkg/processstate"
)

// Process is the handle to a box's first process.
type Process struct {
	id     int
	cmd    *exec.Cmd
	leaf   *cgroup.ControlGroup
	logger logging.Logger

	waitOnce   sync.Once
	done       chan struct{}
	exitStatus int
	waitErr    error
}

func newProcess(id int, cmd *exec.Cmd, leaf *cgroup.ControlGroup, logger logging.Logger) *Process {
	return &Process{
		id:     id,
		cmd:    cmd,
		leaf:   leaf,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Pid is the host pid of the box's first process.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) BoxID() int {
	return p.id
}

// ControlGroup is the box leaf, nil when the box was entered without cgroup
// options.
func (p *Process) ControlGroup() *cgroup.ControlGroup {
	return p.leaf
}

// Wait blocks until the box's first process exits and returns its status,
// 128 plus the signal number when a signal ended it. Concurrent and repeated
// calls return the same result.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		defer close(p.done)

		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !stderrors.As(err, &exitErr) {
			p.exitStatus = -1
			p.waitErr = errors.NewProcessError("failed to wait for box", err).WithContext("id", p.id)
			return
		}
		p.exitStatus = process.ExitStatus(p.cmd.ProcessState)
		p.logger.Infof("Box exited, box: %d, pid: %d, status: %d", p.id, p.Pid(), p.exitStatus)
	})
	return p.exitStatus, p.waitErr
}

func (p *Process) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.NewProcessError("box was not started", nil).WithContext("id", p.id)
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if stderrors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return errors.NewProcessError("failed to signal box", err).WithContext("id", p.id).WithContext("signal", sig.String())
	}
	return nil
}

// Terminate sends SIGTERM, escalates to SIGKILL after grace, and returns the
// exit status.
func (p *Process) Terminate(grace time.Duration) (int, error) {
	p.logger.Infof("Terminating box, box: %d, pid: %d, grace: %v", p.id, p.Pid(), grace)

	go func() { _, _ = p.Wait() }()

	if err := p.Signal(syscall.SIGTERM); err != nil {
		return -1, err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Warnf("Box did not stop within grace period, killing, box: %d, grace: %v", p.id, grace)
		if err := p.Signal(syscall.SIGKILL); err != nil {
			return -1, err
		}
	}
	return p.Wait()
}

// IsRunning reports whether the process has neither been waited for nor
// exited.
func (p *Process) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if p.Pid() == 0 {
		return false
	}
	running, err := processstate.IsProcessRunning(p.Pid())
	return err == nil && running
}

// Release removes the box leaf. The kernel refuses while anything is still
// in it, which includes the process that called Enter; that refusal is not
// an error.
func (p *Process) Release() error {
	if p.leaf == nil {
		return nil
	}
	return p.leaf.Remove()
}
