package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/izoli/izoli/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a simple mock implementation of Logger for testing
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, &ProcessFileMockLogger{})

	assert.Equal(t, DefaultBaseDirectory, manager.config.BaseDirectory)
	assert.Equal(t, "/var/local/lib/izoli/7.pid", manager.GeneratePIDFilePath(7))
}

func TestProcessFileManager_WriteReadRemove(t *testing.T) {
	base := filepath.Join(t.TempDir(), "state")
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, &ProcessFileMockLogger{})

	require.NoError(t, manager.WritePIDFile(3, 4242))

	content, err := os.ReadFile(filepath.Join(base, "3.pid"))
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(content))

	pid, err := manager.ReadPIDFile(3)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, manager.WritePIDFile(3, 5151))
	pid, err = manager.ReadPIDFile(3)
	require.NoError(t, err)
	assert.Equal(t, 5151, pid)

	require.NoError(t, manager.RemovePIDFile(3))
	require.NoError(t, manager.RemovePIDFile(3))

	_, err = manager.ReadPIDFile(3)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestProcessFileManager_ReadPIDFile_InvalidContent(t *testing.T) {
	base := t.TempDir()
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, &ProcessFileMockLogger{})
	require.NoError(t, os.WriteFile(filepath.Join(base, "1.pid"), []byte("not-a-pid\n"), 0644))

	_, err := manager.ReadPIDFile(1)
	assert.True(t, errors.IsParseError(err))
}

func TestProcessFileManager_StagingDirectoryIsSeparate(t *testing.T) {
	base := t.TempDir()
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, &ProcessFileMockLogger{})
	require.NoError(t, os.MkdirAll(filepath.Join(base, "1"), 0755))

	require.NoError(t, manager.WritePIDFile(1, 99))
	assert.DirExists(t, filepath.Join(base, "1"))
	assert.FileExists(t, filepath.Join(base, "1.pid"))
}

func TestValidatePIDFileDirectory(t *testing.T) {
	tempDir := t.TempDir()

	require.NoError(t, ValidatePIDFileDirectory(filepath.Join(tempDir, "test.pid")))

	nested := filepath.Join(tempDir, "a", "b", "test.pid")
	require.NoError(t, ValidatePIDFileDirectory(nested))
	assert.DirExists(t, filepath.Dir(nested))

	file := filepath.Join(tempDir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	err := ValidatePIDFileDirectory(filepath.Join(file, "test.pid"))
	assert.True(t, errors.IsValidationError(err))
}
