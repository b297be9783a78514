package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/process"
)

// DefaultBaseDirectory is the state directory shared with box staging roots.
const DefaultBaseDirectory = "/var/local/lib/izoli"

// ProcessFileConfig holds configuration for box PID files
type ProcessFileConfig struct {
	// Base directory for PID files. DefaultBaseDirectory when empty
	BaseDirectory string
}

// ProcessFileManager keeps one PID file per detached box, <base>/<id>.pid.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.BaseDirectory == "" {
		config.BaseDirectory = DefaultBaseDirectory
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

func (m *ProcessFileManager) GeneratePIDFilePath(boxID int) string {
	return filepath.Join(m.config.BaseDirectory, strconv.Itoa(boxID)+".pid")
}

// WritePIDFile records pid for the box, replacing a stale file.
func (m *ProcessFileManager) WritePIDFile(boxID int, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(boxID)
	m.logger.Debugf("Writing PID file, box: %d, pid: %d, path: %s", boxID, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, box: %d, path: %s, error: %v", boxID, pidFilePath, err)
		return err
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, box: %d, pid: %d, path: %s, error: %v", boxID, pid, pidFilePath, err)
		return errors.NewOSError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written successfully, box: %d, pid: %d, path: %s", boxID, pid, pidFilePath)
	return nil
}

func (m *ProcessFileManager) ReadPIDFile(boxID int) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(boxID)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("no PID file for box", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewOSError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pid, err := process.ValidatePID(string(content))
	if err != nil {
		m.logger.Errorf("Invalid content in PID file, box: %d, path: %s, error: %v", boxID, pidFilePath, err)
		return 0, errors.NewParseError("invalid PID file", err).WithContext("pid_file", pidFilePath)
	}

	m.logger.Debugf("PID file read successfully, box: %d, pid: %d, path: %s", boxID, pid, pidFilePath)
	return pid, nil
}

// RemovePIDFile is idempotent.
func (m *ProcessFileManager) RemovePIDFile(boxID int) error {
	pidFilePath := m.GeneratePIDFilePath(boxID)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewOSError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	m.logger.Debugf("PID file removed, box: %d, path: %s", boxID, pidFilePath)
	return nil
}

// ValidatePIDFileDirectory makes sure the PID file's directory exists,
// creating it when missing.
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewOSError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewOSError("failed to create PID file directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}
