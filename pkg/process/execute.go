package process

import (
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
)

// Shell conventions for a program that could not be started.
const (
	ExitCodeCannotExecute = 126
	ExitCodeNotFound      = 127
)

type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// ExecutionConfigFromArgv treats argv[0] as the program and the rest as its
// arguments.
func ExecutionConfigFromArgv(argv []string) ExecutionConfig {
	if len(argv) == 0 {
		return ExecutionConfig{}
	}
	return ExecutionConfig{
		ExecutablePath: argv[0],
		Args:           append([]string(nil), argv[1:]...),
	}
}

// Exec replaces the calling process image with the configured program. It
// only returns on failure.
func Exec(execution ExecutionConfig, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		return errors.NewValidationError("invalid execution configuration", err)
	}

	path, err := exec.LookPath(execution.ExecutablePath)
	if err != nil {
		return errors.NewNotFoundError("executable not found", err).WithContext("executable_path", execution.ExecutablePath)
	}

	if execution.WorkingDirectory != "" {
		if err := unix.Chdir(execution.WorkingDirectory); err != nil {
			return errors.NewOSError("failed to change working directory", err).WithContext("working_directory", execution.WorkingDirectory)
		}
	}

	argv := append([]string{execution.ExecutablePath}, execution.Args...)
	env := append(os.Environ(), execution.Environment...)

	logger.Debugf("Executing program, path: %s, args: %s", path, strings.Join(execution.Args, " "))

	if err := unix.Exec(path, argv, env); err != nil {
		return errors.NewProcessError("failed to execute program", err).WithContext("executable_path", path)
	}
	return nil
}

// ExecExitCode maps a failed Exec to the status a shell would report.
func ExecExitCode(err error) int {
	if errors.IsNotFoundError(err) {
		return ExitCodeNotFound
	}
	return ExitCodeCannotExecute
}
