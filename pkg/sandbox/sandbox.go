//go:build linux

// Package sandbox runs code in a box: a process with private mount, UTS, IPC
// and PID namespaces (network too when asked), a cgroup v2 leaf carrying its
// limits, and a root assembled from bind mounts.
//
// The box's first process is a re-execution of the current binary that
// reaches the requested routine through Init. Programs using this package
// register their routines during initialization and call Init first thing
// in main, or in TestMain for tests.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/rootfs"
)

const (
	DefaultStateDir = "/var/local/lib/izoli"
	DefaultHostname = "izolibox"

	// CgroupParent holds one leaf per box, box_<id>.
	CgroupParent = "izoli"

	// PreludeFailureExitCode is the box's status when it could not be set up
	// far enough to run its routine.
	PreludeFailureExitCode = 125

	defaultBoxLogLevel = "warn"
	selfExe            = "/proc/self/exe"
)

// Options describe one box.
type Options struct {
	Cgroup *cgroup.Option `yaml:"cgroup,omitempty"`
	NewNet bool           `yaml:"new_net,omitempty"`
	// Mounts are applied in order.
	Mounts []rootfs.Mount `yaml:"mounts,omitempty"`
	// Env is appended to the inherited environment.
	Env []string `yaml:"env,omitempty"`
}

// Config places boxes on the host. Zero values select the defaults.
type Config struct {
	StateDir string
	Hostname string
	Cgroup   cgroup.DriverConfig
	// LogLevel of the logger inside the box, "warn" when empty.
	LogLevel string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Sandbox is a box definition bound to an id. Two sandboxes with the same id
// must not run at the same time: they share a cgroup leaf and a staging
// directory.
type Sandbox struct {
	id      int
	options Options
	config  Config
	logger  logging.Logger

	start func(cmd *exec.Cmd) error
}

func New(id int, options Options, config Config, logger logging.Logger) (*Sandbox, error) {
	if id < 0 {
		return nil, errors.NewValidationError("box id cannot be negative", nil).WithContext("id", id)
	}
	for _, m := range options.Mounts {
		if err := rootfs.ValidateMount(m); err != nil {
			return nil, err
		}
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Hostname == "" {
		config.Hostname = DefaultHostname
	}
	if config.LogLevel == "" {
		config.LogLevel = defaultBoxLogLevel
	}
	if config.Stdin == nil {
		config.Stdin = os.Stdin
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Sandbox{
		id:      id,
		options: options,
		config:  config,
		logger:  logger,
		start:   (*exec.Cmd).Start,
	}, nil
}

func (s *Sandbox) ID() int {
	return s.id
}

func (s *Sandbox) Options() Options {
	return s.options
}

// CgroupPath is the box's leaf relative to the cgroup root.
func (s *Sandbox) CgroupPath() string {
	return CgroupLeafPath(s.id)
}

func CgroupLeafPath(id int) string {
	return path.Join(CgroupParent, fmt.Sprintf("box_%d", id))
}

// StagingDir is where the box root is assembled.
func (s *Sandbox) StagingDir() string {
	return filepath.Join(s.config.StateDir, strconv.Itoa(s.id))
}

func (s *Sandbox) Namespaces() NamespaceSet {
	return NamespacesFor(s.options.NewNet)
}

// Enter starts the registered routine as the first process of a new box and
// returns once that process exists. It does not wait for it.
//
// With cgroup options set, the calling process joins the box leaf before the
// spawn so the box inherits the membership. Nothing done before a failure is
// undone.
func (s *Sandbox) Enter(routine string, args ...string) (*Process, error) {
	if _, ok := lookupRoutine(routine); !ok {
		return nil, errors.NewNotFoundError("routine is not registered", nil).WithContext("routine", routine)
	}

	s.logger.Infof("Entering box, box: %d, routine: %s, new_net: %t, mounts: %d", s.id, routine, s.options.NewNet, len(s.options.Mounts))

	if err := rootfs.ResetStagingDir(s.StagingDir(), s.logger); err != nil {
		return nil, err
	}

	var leaf *cgroup.ControlGroup
	if s.options.Cgroup != nil {
		var err error
		if leaf, err = s.joinCgroup(); err != nil {
			return nil, err
		}
	}

	cmd, contextReader, contextWriter, err := s.command()
	if err != nil {
		return nil, err
	}

	if err := s.start(cmd); err != nil {
		contextReader.Close()
		contextWriter.Close()
		return nil, errors.NewProcessError("failed to spawn box", err).WithContext("id", s.id)
	}

	err = writeBoxContext(contextWriter, &boxContext{
		ID:       s.id,
		Routine:  routine,
		Args:     args,
		Root:     s.StagingDir(),
		Hostname: s.config.Hostname,
		Mounts:   s.options.Mounts,
		LogLevel: s.config.LogLevel,
	})
	contextWriter.Close()
	contextReader.Close()

	proc := newProcess(s.id, cmd, leaf, s.logger)
	if err != nil {
		s.logger.Errorf("Failed to hand context to box, killing it, box: %d, error: %v", s.id, err)
		_ = proc.Signal(syscall.SIGKILL)
		go func() { _, _ = proc.Wait() }()
		return nil, err
	}

	s.logger.Infof("Box entered, box: %d, pid: %d", s.id, proc.Pid())
	return proc, nil
}

func (s *Sandbox) joinCgroup() (*cgroup.ControlGroup, error) {
	parent, err := cgroup.NewControlGroupWithConfig(CgroupParent, s.config.Cgroup, s.logger)
	if err != nil {
		return nil, err
	}
	if err := parent.EnsureSubtreeControl(s.options.Cgroup.Controllers()); err != nil {
		return nil, err
	}

	leaf, err := cgroup.NewControlGroupWithConfig(s.CgroupPath(), s.config.Cgroup, s.logger)
	if err != nil {
		return nil, err
	}
	if err := leaf.ApplyOptions(s.options.Cgroup); err != nil {
		return nil, err
	}
	if err := leaf.Enter(); err != nil {
		return nil, err
	}
	return leaf, nil
}

// command builds the re-execution of the current binary. The context pipe
// is the child's fd 3.
func (s *Sandbox) command() (*exec.Cmd, *os.File, *os.File, error) {
	flags, err := s.Namespaces().CloneFlags()
	if err != nil {
		return nil, nil, nil, err
	}

	contextReader, contextWriter, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, errors.NewOSError("failed to create box context pipe", err)
	}

	cmd := &exec.Cmd{
		Path:       selfExe,
		Args:       []string{initArg0},
		Env:        append(os.Environ(), s.options.Env...),
		Stdin:      s.config.Stdin,
		Stdout:     s.config.Stdout,
		Stderr:     s.config.Stderr,
		ExtraFiles: []*os.File{contextReader},
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: flags,
		},
	}
	return cmd, contextReader, contextWriter, nil
}
