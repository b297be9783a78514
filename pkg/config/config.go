// Package config loads box configuration files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/processfile"
	"github.com/izoli/izoli/pkg/resourcelimits"
	"github.com/izoli/izoli/pkg/rootfs"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHostname         = "izolibox"
	DefaultTerminationGrace = 5 * time.Second
	DefaultLogLevel         = "info"
	DefaultBoxLogLevel      = "warn"

	// HOST_NAME_MAX on Linux
	maxHostnameLength = 64
)

// BoxConfig represents the top-level configuration file structure
type BoxConfig struct {
	Box    BoxOptions                     `yaml:"box"`
	Limits *resourcelimits.ResourceLimits `yaml:"limits,omitempty"`
	// Cgroup is written in kernel syntax and wins over what Limits derive.
	Cgroup  *cgroup.Option    `yaml:"cgroup,omitempty"`
	Host    HostOptions       `yaml:"host"`
	Logging logging.ZapConfig `yaml:"logging"`
}

// BoxOptions describe what runs in the box and what it sees
type BoxOptions struct {
	ID       int            `yaml:"id"`
	Hostname string         `yaml:"hostname,omitempty"`
	NewNet   bool           `yaml:"new_net,omitempty"`
	Mounts   []rootfs.Mount `yaml:"mounts,omitempty"`
	Env      []string       `yaml:"env,omitempty"`
	// Command is run by the exec routine when no argv is given on the command line.
	Command []string `yaml:"command,omitempty"`
}

// HostOptions place the box on the host
type HostOptions struct {
	StateDir         string        `yaml:"state_dir,omitempty"`
	CgroupRoot       string        `yaml:"cgroup_root,omitempty"`
	BoxLogLevel      string        `yaml:"box_log_level,omitempty"`
	TerminationGrace time.Duration `yaml:"termination_grace,omitempty"`
}

// LoadConfigFromFile loads, defaults and validates a box configuration
func LoadConfigFromFile(filename string) (*BoxConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewOSError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if errors.IsParseError(err) {
			return nil, errors.NewParseError("invalid configuration file", err).WithContext("filename", filename)
		}
		return nil, errors.NewValidationError("invalid configuration file", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig decodes a YAML box configuration, applies defaults and validates it
func ParseConfig(data []byte) (*BoxConfig, error) {
	var config BoxConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty document leaves everything to the defaults.
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, errors.NewParseError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *BoxConfig) {
	if config.Box.Hostname == "" {
		config.Box.Hostname = DefaultHostname
	}

	if config.Host.StateDir == "" {
		config.Host.StateDir = processfile.DefaultBaseDirectory
	}
	if config.Host.CgroupRoot == "" {
		config.Host.CgroupRoot = cgroup.DefaultRoot
	}
	if config.Host.BoxLogLevel == "" {
		config.Host.BoxLogLevel = DefaultBoxLogLevel
	}
	if config.Host.TerminationGrace == 0 {
		config.Host.TerminationGrace = DefaultTerminationGrace
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *BoxConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateBoxOptions(&config.Box); err != nil {
		return errors.NewValidationError("invalid box configuration", err).WithContext("box_id", config.Box.ID)
	}

	if err := resourcelimits.ValidateResourceLimits(config.Limits); err != nil {
		return errors.NewValidationError("invalid resource limits", err).WithContext("box_id", config.Box.ID)
	}

	if err := validateHostOptions(&config.Host); err != nil {
		return errors.NewValidationError("invalid host configuration", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}

	return nil
}

func validateBoxOptions(box *BoxOptions) error {
	if box.ID < 0 {
		return errors.NewValidationError(fmt.Sprintf("box id cannot be negative: %d", box.ID), nil)
	}

	if err := ValidateHostname(box.Hostname); err != nil {
		return err
	}

	for i, m := range box.Mounts {
		if err := rootfs.ValidateMount(m); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid mount at index %d", i), err)
		}
	}

	for _, env := range box.Env {
		if !strings.Contains(env, "=") || strings.HasPrefix(env, "=") {
			return errors.NewValidationError("environment entries must be NAME=value", nil).WithContext("entry", env)
		}
	}

	return nil
}

// ValidateHostname checks the box hostname is something sethostname accepts
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return errors.NewValidationError("hostname cannot be empty", nil)
	}
	if len(hostname) > maxHostnameLength {
		return errors.NewValidationError("hostname cannot exceed 64 characters", nil).WithContext("hostname", hostname)
	}
	for _, char := range hostname {
		if !isValidHostnameChar(char) {
			return errors.NewValidationError("hostname contains invalid characters: only letters, numbers, hyphens and dots are allowed", nil).WithContext("hostname", hostname)
		}
	}
	return nil
}

func isValidHostnameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '.'
}

func validateHostOptions(host *HostOptions) error {
	if !strings.HasPrefix(host.StateDir, "/") {
		return errors.NewValidationError("state directory must be absolute", nil).WithContext("state_dir", host.StateDir)
	}
	if !strings.HasPrefix(host.CgroupRoot, "/") {
		return errors.NewValidationError("cgroup root must be absolute", nil).WithContext("cgroup_root", host.CgroupRoot)
	}
	if _, err := logging.ParseLevel(host.BoxLogLevel); err != nil {
		return errors.NewValidationError("invalid box log level", err)
	}
	if host.TerminationGrace < 0 {
		return errors.NewValidationError("termination grace cannot be negative", nil)
	}
	return nil
}

func validateLogging(config *logging.ZapConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return errors.NewValidationError("invalid log level", err)
	}
	switch config.Format {
	case "console", "json":
		return nil
	}
	return errors.NewValidationError(fmt.Sprintf("invalid log format: %s", config.Format), nil).
		WithContext("valid_formats", "console, json")
}

// CgroupOption merges the limits with the raw cgroup section. Nil when
// neither asks for anything.
func (c *BoxConfig) CgroupOption() (*cgroup.Option, error) {
	option, err := c.Limits.ToCgroupOption()
	if err != nil {
		return nil, err
	}

	if raw := c.Cgroup; raw != nil {
		if option == nil {
			option = &cgroup.Option{}
		}
		if raw.CpuMax != nil {
			option.CpuMax = raw.CpuMax
		}
		if raw.MemoryMax != nil {
			option.MemoryMax = raw.MemoryMax
		}
		if raw.PidsMax != nil {
			option.PidsMax = raw.PidsMax
		}
		if raw.Cpus != "" {
			option.Cpus = raw.Cpus
		}
	}

	if option.IsEmpty() {
		return nil, nil
	}
	return option, nil
}

// DriverConfig places the cgroup driver at the configured root
func (c *BoxConfig) DriverConfig() cgroup.DriverConfig {
	return cgroup.DriverConfig{Root: c.Host.CgroupRoot}
}
