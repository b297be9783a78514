package cgroup

import (
	"os"
)

const (
	// DefaultRoot is where the unified hierarchy is mounted.
	DefaultRoot = "/sys/fs/cgroup"

	// SelfCgroupFile describes the calling process's membership.
	SelfCgroupFile = "/proc/self/cgroup"

	dirPerm = 0755
)

// ControlFiles is the filesystem surface the driver needs. The default
// implementation talks to the real pseudo-filesystem.
type ControlFiles interface {
	MkdirAll(dir string) error
	IsDir(dir string) bool
	ReadFile(file string) (string, error)
	// AppendFile opens an existing file in append mode and issues one write.
	AppendFile(file string, data string) error
	Remove(dir string) error
}

type osControlFiles struct{}

// NewOSControlFiles returns ControlFiles backed by the os package.
func NewOSControlFiles() ControlFiles {
	return osControlFiles{}
}

func (osControlFiles) MkdirAll(dir string) error {
	return os.MkdirAll(dir, dirPerm)
}

func (osControlFiles) IsDir(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func (osControlFiles) ReadFile(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (osControlFiles) AppendFile(file string, data string) error {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (osControlFiles) Remove(dir string) error {
	return os.Remove(dir)
}
