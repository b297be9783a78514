package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/processfile"
	"github.com/izoli/izoli/pkg/resourcelimits"
	"github.com/izoli/izoli/pkg/rootfs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "box.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
box:
  id: 7
  hostname: builder
  new_net: true
  mounts:
    - target: usr
      source: /usr
      readonly: true
    - target: work
      source: /tmp
  env:
    - LANG=C
  command: ["/bin/sh", "-c", "echo hi"]
limits:
  memory:
    max: 256M
    warning_threshold: 90
    policy: graceful_shutdown
  cpu:
    max_cores: 0.5
  process:
    max_processes: 32
host:
  state_dir: /run/izoli
  cgroup_root: /sys/fs/cgroup
  termination_grace: 2s
logging:
  level: debug
  format: json
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7, config.Box.ID)
	assert.Equal(t, "builder", config.Box.Hostname)
	assert.True(t, config.Box.NewNet)
	assert.Equal(t, []rootfs.Mount{
		{Target: "usr", Source: "/usr", Readonly: true},
		{Target: "work", Source: "/tmp"},
	}, config.Box.Mounts)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, config.Box.Command)
	assert.Equal(t, resourcelimits.ByteSize(256<<20), config.Limits.Memory.Max)
	assert.Equal(t, "/run/izoli", config.Host.StateDir)
	assert.Equal(t, 2*time.Second, config.Host.TerminationGrace)
	assert.Equal(t, DefaultBoxLogLevel, config.Host.BoxLogLevel)
	assert.Equal(t, "json", config.Logging.Format)

	option, err := config.CgroupOption()
	require.NoError(t, err)
	assert.Equal(t, "50000 100000", option.CpuMax.String())
	assert.Equal(t, cgroup.Value(uint64(256<<20)), *option.MemoryMax)
	assert.Equal(t, cgroup.Value(uint32(32)), *option.PidsMax)
}

func TestLoadConfigFromFile_Defaults(t *testing.T) {
	config, err := LoadConfigFromFile(writeConfig(t, "box:\n  id: 1\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHostname, config.Box.Hostname)
	assert.Equal(t, processfile.DefaultBaseDirectory, config.Host.StateDir)
	assert.Equal(t, cgroup.DefaultRoot, config.Host.CgroupRoot)
	assert.Equal(t, DefaultTerminationGrace, config.Host.TerminationGrace)
	assert.Equal(t, DefaultLogLevel, config.Logging.Level)
	assert.Equal(t, "console", config.Logging.Format)
	assert.Equal(t, cgroup.DriverConfig{Root: cgroup.DefaultRoot}, config.DriverConfig())

	option, err := config.CgroupOption()
	require.NoError(t, err)
	assert.Nil(t, option)
}

func TestLoadConfigFromFile_EmptyFile(t *testing.T) {
	config, err := LoadConfigFromFile(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 0, config.Box.ID)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsOSError(err))
}

func TestLoadConfigFromFile_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not_yaml", "box: [1, 2"},
		{"unknown_field", "box:\n  id: 1\n  colour: blue\n"},
		{"bad_size", "limits:\n  memory:\n    max: lots\n"},
		{"bad_cgroup_value", "cgroup:\n  memory_max: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromFile(writeConfig(t, tt.content))
			assert.True(t, errors.IsParseError(err), "got %v", err)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative_id", "box:\n  id: -1\n"},
		{"bad_hostname", "box:\n  hostname: \"not valid!\"\n"},
		{"long_hostname", "box:\n  hostname: " + strings.Repeat("h", 65) + "\n"},
		{"relative_mount_source", "box:\n  mounts:\n    - target: usr\n      source: usr\n"},
		{"escaping_mount_target", "box:\n  mounts:\n    - target: ../etc\n      source: /etc\n"},
		{"bad_env", "box:\n  env: [\"=oops\"]\n"},
		{"bad_threshold", "limits:\n  memory:\n    warning_threshold: 120\n"},
		{"bad_policy", "limits:\n  process:\n    policy: restart\n"},
		{"relative_state_dir", "host:\n  state_dir: var/izoli\n"},
		{"negative_grace", "host:\n  termination_grace: -1s\n"},
		{"bad_log_level", "logging:\n  level: loud\n"},
		{"bad_log_format", "logging:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}

	assert.True(t, errors.IsValidationError(ValidateConfig(nil)))
}

func TestCgroupOption_RawSectionWins(t *testing.T) {
	config, err := ParseConfig([]byte(`
limits:
  memory:
    max: 1g
  cpu:
    max_cores: 2
cgroup:
  memory_max: max
  cpus: "0"
`))
	require.NoError(t, err)

	option, err := config.CgroupOption()
	require.NoError(t, err)
	assert.True(t, option.MemoryMax.IsMax())
	assert.Equal(t, "200000 100000", option.CpuMax.String())
	assert.Equal(t, "0", option.Cpus)
	assert.Nil(t, option.PidsMax)
}
