//go:build linux

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/processfile"
	"github.com/izoli/izoli/pkg/sandbox"

	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLevelFuncs(t *testing.T) {
	var called []string
	record := func(name string) logging.LogFunc {
		return func(format string, args ...interface{}) { called = append(called, name) }
	}
	funcs := logging.LogFuncs{
		Debugf: record("debug"),
		Infof:  record("info"),
		Warnf:  record("warn"),
		Errorf: record("error"),
	}

	logger := logging.NewLogger("", levelFuncs(logging.LogLevelWarn, funcs))
	logger.Debugf("d")
	logger.Infof("i")
	logger.Warnf("w")
	logger.Errorf("e")

	assert.Equal(t, []string{"warn", "error"}, called)
}

func TestResolveArgv(t *testing.T) {
	argv, err := resolveArgv([]string{"/bin/true"}, []string{"/bin/false"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, argv)

	argv, err = resolveArgv(nil, []string{"/bin/false"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/false"}, argv)

	_, err = resolveArgv(nil, nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestParser_Commands(t *testing.T) {
	c := &cli{}
	parser := newParser(c)

	for _, name := range []string{"run", "start", "kill", "cgroup"} {
		assert.NotNil(t, parser.Find(name), name)
	}

	_, err := parser.ParseArgs([]string{"kill"})
	var flagsErr *flags.Error
	require.ErrorAs(t, err, &flagsErr)
	assert.Equal(t, flags.ErrRequired, flagsErr.Type)
}

func TestParser_RunPassesArgv(t *testing.T) {
	c := &cli{}
	parser := newParser(c)

	// The configuration file is missing, so the command fails before entering a box.
	_, err := parser.ParseArgs([]string{"--log-backend", "std", "run", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--", "/bin/echo", "hi"})
	assert.True(t, errors.IsOSError(err), "got %v", err)
	assert.Equal(t, "std", c.opts.LogBackend)
}

func TestPrintControlGroup(t *testing.T) {
	root := t.TempDir()
	node := filepath.Join(root, "izoli", "box_1")
	require.NoError(t, os.MkdirAll(node, 0755))

	files := map[string]string{
		cgroup.FileType:          "domain\n",
		cgroup.FileControllers:   "cpu memory pids\n",
		cgroup.FileProcs:         "12\n34\n",
		cgroup.FileMemoryMax:     "max\n",
		cgroup.FileMemoryCurrent: "1048576\n",
		cgroup.FilePidsMax:       "10\n",
		cgroup.FileCpuMax:        "50000 100000\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(node, name), []byte(content), 0644))
	}

	cg, err := cgroup.NewControlGroupWithConfig("izoli/box_1", cgroup.DriverConfig{Root: root}, logging.NewNopLogger())
	require.NoError(t, err)

	var out bytes.Buffer
	printControlGroup(&out, cg)

	text := out.String()
	assert.Regexp(t, `cgroup\.type:\s+domain`, text)
	assert.Regexp(t, `cgroup\.controllers:\s+cpu memory pids`, text)
	assert.Regexp(t, `cgroup\.procs:\s+\[12 34\]`, text)
	assert.Regexp(t, `memory\.max:\s+max`, text)
	assert.Regexp(t, `memory\.current:\s+1MiB`, text)
	assert.Regexp(t, `pids\.max:\s+10`, text)
	assert.Regexp(t, `cpu\.max:\s+50000 100000`, text)
	assert.Regexp(t, `pids\.current:\s+-`, text)
	assert.Regexp(t, `cpuset\.cpus:\s+-`, text)
}

func TestFormatMemoryLimit(t *testing.T) {
	assert.Equal(t, "max", formatMemoryLimit(cgroup.Max[uint64]()))
	assert.Equal(t, "512MiB", formatMemoryLimit(cgroup.Value(uint64(512<<20))))
}

func TestKillBox_NoPIDFile(t *testing.T) {
	err := killBox(4, time.Second, t.TempDir(), cgroup.DriverConfig{Root: t.TempDir()}, logging.NewNopLogger())
	assert.True(t, errors.IsNotFoundError(err), "got %v", err)
}

func TestKillBox_DeadProcessCleansUp(t *testing.T) {
	stateDir := t.TempDir()
	cgroupRoot := t.TempDir()
	leafDir := filepath.Join(cgroupRoot, sandbox.CgroupLeafPath(4))
	require.NoError(t, os.MkdirAll(leafDir, 0755))

	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: stateDir}, nil)
	// Far above any default pid_max, so nothing runs with it.
	require.NoError(t, pidFiles.WritePIDFile(4, 1<<30))

	err := killBox(4, time.Second, stateDir, cgroup.DriverConfig{Root: cgroupRoot}, logging.NewNopLogger())
	require.NoError(t, err)

	_, err = os.Stat(pidFiles.GeneratePIDFilePath(4))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(leafDir)
	assert.True(t, os.IsNotExist(err))
}

type failingRemoveFiles struct {
	cgroup.ControlFiles
}

func (failingRemoveFiles) Remove(dir string) error {
	return unix.EIO
}

func TestKillBox_LeafFailureStillRemovesPIDFile(t *testing.T) {
	stateDir := t.TempDir()
	cgroupRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cgroupRoot, sandbox.CgroupLeafPath(5)), 0755))

	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: stateDir}, nil)
	require.NoError(t, pidFiles.WritePIDFile(5, 1<<30))

	driver := cgroup.DriverConfig{Root: cgroupRoot, Files: failingRemoveFiles{cgroup.NewOSControlFiles()}}
	err := killBox(5, time.Second, stateDir, driver, logging.NewNopLogger())
	assert.True(t, errors.IsOSError(err), "got %v", err)
	assert.ErrorIs(t, err, unix.EIO)

	_, err = os.Stat(pidFiles.GeneratePIDFilePath(5))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveLeaf_Missing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, removeLeaf(9, cgroup.DriverConfig{Root: root}, logging.NewNopLogger()))

	_, err := os.Stat(filepath.Join(root, sandbox.CgroupLeafPath(9)))
	assert.True(t, os.IsNotExist(err))
}
