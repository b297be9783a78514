package rootfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// Mounter is the set of system calls root assembly is made of.
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	MkdirAll(path string, perm os.FileMode) error
	Chroot(path string) error
	Chdir(path string) error
}

type unixMounter struct{}

// NewUnixMounter returns a Mounter issuing real system calls.
func NewUnixMounter() Mounter {
	return unixMounter{}
}

func (unixMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (unixMounter) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (unixMounter) Chroot(path string) error {
	return unix.Chroot(path)
}

func (unixMounter) Chdir(path string) error {
	return unix.Chdir(path)
}
