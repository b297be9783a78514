// Package rootfs assembles the private filesystem root of a box inside its
// fresh mount namespace.
package rootfs

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
)

const dirPerm = 0755

// Mount binds a host directory into the box.
type Mount struct {
	// Target is relative to the box root.
	Target   string `yaml:"target"`
	Source   string `yaml:"source"`
	Readonly bool   `yaml:"readonly,omitempty"`
	NoExec   bool   `yaml:"no_exec,omitempty"`
}

// RemountFlags are the flags of the second, restricting mount call.
func (m Mount) RemountFlags() uintptr {
	flags := uintptr(unix.MS_BIND | unix.MS_REC | unix.MS_REMOUNT)
	if m.Readonly {
		flags |= unix.MS_RDONLY
	}
	if m.NoExec {
		flags |= unix.MS_NOEXEC
	}
	return flags
}

// ValidateMount checks a mount before anything touches the filesystem.
func ValidateMount(m Mount) error {
	if m.Source == "" {
		return errors.NewValidationError("mount source is required", nil).WithContext("target", m.Target)
	}
	if !filepath.IsAbs(m.Source) {
		return errors.NewValidationError("mount source must be an absolute path", nil).WithContext("source", m.Source)
	}
	target := filepath.Clean("/" + m.Target)
	if target == "/" {
		return errors.NewValidationError("mount target must name a directory below the root", nil).WithContext("source", m.Source)
	}
	if containsDotDot(m.Target) {
		return errors.NewValidationError("mount target must not contain '..'", nil).WithContext("target", m.Target)
	}
	return nil
}

// Assembler builds a box root and switches the calling process into it.
type Assembler struct {
	mounter Mounter
	logger  logging.Logger
}

func NewAssembler(mounter Mounter, logger logging.Logger) *Assembler {
	if mounter == nil {
		mounter = NewUnixMounter()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Assembler{
		mounter: mounter,
		logger:  logger,
	}
}

// Assemble must run inside a new mount namespace. It detaches the namespace
// from host propagation, mounts /tmp and a read-only /proc under root,
// bind-mounts every entry of mounts in order, then chroots into root and
// changes to its "/".
func (a *Assembler) Assemble(root string, mounts []Mount) error {
	a.logger.Debugf("Assembling root, root: %s, mounts: %d", root, len(mounts))

	if err := a.mounter.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return errors.NewOSError("failed to make mount namespace private", err)
	}

	if err := a.mountFresh(root, "tmp", "tmpfs", 0); err != nil {
		return err
	}
	if err := a.mountFresh(root, "proc", "proc", unix.MS_RDONLY); err != nil {
		return err
	}

	for _, m := range mounts {
		if err := a.bind(root, m); err != nil {
			return err
		}
	}

	if err := a.mounter.Chroot(root); err != nil {
		return errors.NewOSError("failed to chroot", err).WithContext("root", root)
	}
	if err := a.mounter.Chdir("/"); err != nil {
		return errors.NewOSError("failed to change directory to new root", err).WithContext("root", root)
	}

	a.logger.Debugf("Root assembled, root: %s", root)
	return nil
}

func (a *Assembler) mountFresh(root, name, fstype string, flags uintptr) error {
	target := filepath.Join(root, name)
	if err := a.mounter.MkdirAll(target, dirPerm); err != nil {
		return errors.NewOSError("failed to create mount point", err).WithContext("target", target)
	}
	if err := a.mounter.Mount(fstype, target, fstype, flags, ""); err != nil {
		return errors.NewOSError("failed to mount "+fstype, err).WithContext("target", target)
	}
	return nil
}

// bind needs two calls: a bind mount inherits the source's flags, and only a
// remount can restrict them.
func (a *Assembler) bind(root string, m Mount) error {
	if err := ValidateMount(m); err != nil {
		return err
	}

	target := TargetPath(root, m.Target)
	a.logger.Debugf("Binding mount, source: %s, target: %s, readonly: %t, no_exec: %t", m.Source, target, m.Readonly, m.NoExec)

	if err := a.mounter.MkdirAll(target, dirPerm); err != nil {
		return errors.NewOSError("failed to create mount point", err).WithContext("target", target)
	}
	if err := a.mounter.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return errors.NewOSError("failed to bind mount", err).WithContext("source", m.Source).WithContext("target", target)
	}
	if err := a.mounter.Mount("", target, "", m.RemountFlags(), ""); err != nil {
		return errors.NewOSError("failed to remount bind mount", err).WithContext("target", target)
	}
	return nil
}

func containsDotDot(target string) bool {
	for _, part := range strings.Split(filepath.ToSlash(target), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// TargetPath resolves a mount target below root.
func TargetPath(root, target string) string {
	return filepath.Join(root, filepath.Clean("/"+target))
}

// ResetStagingDir removes whatever a previous run left in dir and recreates
// it empty. Removal is best effort; a failure surfaces only if the directory
// cannot be recreated.
func ResetStagingDir(dir string, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warnf("Failed to clear staging directory, dir: %s, error: %v", dir, err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.NewOSError("failed to create staging directory", err).WithContext("dir", dir)
	}
	return nil
}
