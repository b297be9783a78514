//go:build linux

package config

import (
	"github.com/izoli/izoli/pkg/sandbox"
)

// SandboxOptions describe the configured box
func (c *BoxConfig) SandboxOptions() (sandbox.Options, error) {
	option, err := c.CgroupOption()
	if err != nil {
		return sandbox.Options{}, err
	}

	return sandbox.Options{
		Cgroup: option,
		NewNet: c.Box.NewNet,
		Mounts: c.Box.Mounts,
		Env:    c.Box.Env,
	}, nil
}

// SandboxConfig places the box on the host. Standard streams are left to the caller.
func (c *BoxConfig) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		StateDir: c.Host.StateDir,
		Hostname: c.Box.Hostname,
		Cgroup:   c.DriverConfig(),
		LogLevel: c.Host.BoxLogLevel,
	}
}
