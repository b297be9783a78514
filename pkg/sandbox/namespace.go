//go:build linux

package sandbox

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
)

// NamespaceSet is the list of namespaces a box is created in.
type NamespaceSet []specs.LinuxNamespaceType

var cloneFlagsByNamespace = map[specs.LinuxNamespaceType]uintptr{
	specs.MountNamespace:   unix.CLONE_NEWNS,
	specs.UTSNamespace:     unix.CLONE_NEWUTS,
	specs.IPCNamespace:     unix.CLONE_NEWIPC,
	specs.PIDNamespace:     unix.CLONE_NEWPID,
	specs.NetworkNamespace: unix.CLONE_NEWNET,
	specs.UserNamespace:    unix.CLONE_NEWUSER,
	specs.CgroupNamespace:  unix.CLONE_NEWCGROUP,
}

// NamespacesFor returns mount, UTS, IPC and PID, plus network when newNet
// is set.
func NamespacesFor(newNet bool) NamespaceSet {
	set := NamespaceSet{
		specs.MountNamespace,
		specs.UTSNamespace,
		specs.IPCNamespace,
		specs.PIDNamespace,
	}
	if newNet {
		set = append(set, specs.NetworkNamespace)
	}
	return set
}

func (n NamespaceSet) Contains(ns specs.LinuxNamespaceType) bool {
	for _, member := range n {
		if member == ns {
			return true
		}
	}
	return false
}

// CloneFlags maps the set to the flags of the spawning clone call.
func (n NamespaceSet) CloneFlags() (uintptr, error) {
	var flags uintptr
	for _, ns := range n {
		flag, ok := cloneFlagsByNamespace[ns]
		if !ok {
			return 0, errors.NewValidationError("unsupported namespace", nil).WithContext("namespace", string(ns))
		}
		flags |= flag
	}
	return flags, nil
}
