//go:build linux

package sandbox

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/rootfs"
)

const (
	initArg0  = "izoli-box-init"
	contextFD = 3
)

// Init runs the box when the current process was started by Enter, and
// exits with the routine's status. In any other process it returns at once.
func Init() {
	if len(os.Args) == 0 || os.Args[0] != initArg0 {
		return
	}

	contextFile := os.NewFile(contextFD, "box-context")
	os.Exit(runBox(contextFile, rootfs.NewUnixMounter(), sethostname, os.Stderr))
}

func sethostname(name string) error {
	return unix.Sethostname([]byte(name))
}

// runBox is the first process of a box: read the context, build the root,
// set the hostname, then hand over to the routine.
func runBox(contextFile io.ReadCloser, mounter rootfs.Mounter, setHostname func(string) error, logOutput io.Writer) int {
	ctx, err := readBoxContext(contextFile)
	contextFile.Close()

	level := defaultBoxLogLevel
	if err == nil && ctx.LogLevel != "" {
		level = ctx.LogLevel
	}
	logger, flush := logging.NewZapLogger(logging.ZapConfig{Level: level, Output: logOutput})
	defer func() { _ = flush() }()

	if err != nil {
		logger.Errorf("Box did not start, error: %v", err)
		return PreludeFailureExitCode
	}

	logger = logging.WithPrefix(logger, fmt.Sprintf("box: %d", ctx.ID))

	routine, ok := lookupRoutine(ctx.Routine)
	if !ok {
		logger.Errorf("Routine is not registered in this binary, routine: %s", ctx.Routine)
		return PreludeFailureExitCode
	}

	if err := prelude(ctx, mounter, setHostname, logger); err != nil {
		logger.Errorf("Box prelude failed, error: %v", err)
		return PreludeFailureExitCode
	}

	logger.Debugf("Running routine, routine: %s, args: %v", ctx.Routine, ctx.Args)
	return routine(ctx.Args, logger)
}

func prelude(ctx *boxContext, mounter rootfs.Mounter, setHostname func(string) error, logger logging.Logger) error {
	if err := rootfs.NewAssembler(mounter, logger).Assemble(ctx.Root, ctx.Mounts); err != nil {
		return err
	}
	if err := setHostname(ctx.Hostname); err != nil {
		return errors.NewOSError("failed to set hostname", err).WithContext("hostname", ctx.Hostname)
	}
	return nil
}
