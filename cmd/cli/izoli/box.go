//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/izoli/izoli/pkg/config"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/processfile"
	"github.com/izoli/izoli/pkg/processstate"
	"github.com/izoli/izoli/pkg/resourcelimits"
	"github.com/izoli/izoli/pkg/sandbox"
)

// boxCommand holds what run and start share.
type boxCommand struct {
	cli *cli

	Config string `long:"config" short:"c" required:"true" description:"box configuration file"`
	ID     int    `long:"id" default:"-1" description:"box id, overrides the configuration file"`
}

// preparedBox is a loaded configuration turned into a sandbox.
type preparedBox struct {
	config *config.BoxConfig
	box    *sandbox.Sandbox
	argv   []string
	logger logging.Logger
	flush  func()
}

func (c *boxCommand) prepare(args []string, stdin *os.File) (*preparedBox, error) {
	boxConfig, err := config.LoadConfigFromFile(c.Config)
	if err != nil {
		return nil, err
	}
	if c.ID >= 0 {
		boxConfig.Box.ID = c.ID
	}

	argv, err := resolveArgv(args, boxConfig.Box.Command)
	if err != nil {
		return nil, err
	}

	logger, flush := c.cli.newLogger(boxConfig.Logging)

	options, err := boxConfig.SandboxOptions()
	if err != nil {
		flush()
		return nil, err
	}
	sandboxConfig := boxConfig.SandboxConfig()
	if stdin != nil {
		sandboxConfig.Stdin = stdin
	}

	box, err := sandbox.New(boxConfig.Box.ID, options, sandboxConfig, logger)
	if err != nil {
		flush()
		return nil, err
	}

	return &preparedBox{
		config: boxConfig,
		box:    box,
		argv:   argv,
		logger: logger,
		flush:  flush,
	}, nil
}

// resolveArgv prefers the command line over the configured command.
func resolveArgv(args, configured []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(configured) > 0 {
		return configured, nil
	}
	return nil, errors.NewValidationError("no command to run: pass one after -- or set box.command", nil)
}

type runCommand struct {
	boxCommand
}

func (c *runCommand) Execute(args []string) error {
	prepared, err := c.prepare(args, nil)
	if err != nil {
		return err
	}
	defer prepared.flush()

	proc, err := prepared.box.Enter(sandbox.ExecRoutineName, prepared.argv...)
	if err != nil {
		return err
	}

	status, err := supervise(proc, prepared.config, prepared.logger)
	c.cli.exitCode = status
	return err
}

// supervise forwards signals to the box and enforces its limits until it
// exits, then releases its cgroup leaf.
func supervise(proc *sandbox.Process, boxConfig *config.BoxConfig, logger logging.Logger) (int, error) {
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(signals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				logger.Infof("Forwarding signal to box, box: %d, signal: %v", proc.BoxID(), sig)
				if err := proc.Signal(sig); err != nil {
					logger.Warnf("Failed to forward signal, box: %d, error: %v", proc.BoxID(), err)
				}
			}
		}
	}()

	waitEnforcement := func() {}
	var manager resourcelimits.ResourceLimitManager
	if leaf := proc.ControlGroup(); leaf != nil && boxConfig.Limits != nil {
		manager = resourcelimits.NewResourceLimitManager(proc.BoxID(), leaf, boxConfig.Limits, logger)
		var enforce resourcelimits.ResourceViolationCallback
		enforce, waitEnforcement = resourcelimits.NewPolicyEnforcer(proc, boxConfig.Host.TerminationGrace, logger)
		manager.SetViolationCallback(enforce)
		if err := manager.Start(ctx); err != nil {
			logger.Warnf("Resource monitoring not started, box: %d, error: %v", proc.BoxID(), err)
			manager = nil
		}
	}

	status, waitErr := proc.Wait()

	if manager != nil {
		manager.Stop()
	}
	waitEnforcement()

	if err := proc.Release(); err != nil {
		logger.Warnf("Failed to release box cgroup, box: %d, error: %v", proc.BoxID(), err)
	}

	if waitErr != nil {
		return exitCodeFailure, waitErr
	}
	return status, nil
}

type startCommand struct {
	boxCommand
}

func (c *startCommand) Execute(args []string) error {
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return errors.NewOSError("failed to open null device", err)
	}
	defer devNull.Close()

	prepared, err := c.prepare(args, devNull)
	if err != nil {
		return err
	}
	defer prepared.flush()

	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory: prepared.config.Host.StateDir,
	}, prepared.logger)

	if pid, err := pidFiles.ReadPIDFile(prepared.box.ID()); err == nil {
		if running, _ := processstate.IsProcessRunning(pid); running {
			return errors.NewValidationError("box is already started", nil).
				WithContext("id", prepared.box.ID()).WithContext("pid", pid)
		}
		prepared.logger.Infof("Removing stale pid file, box: %d, pid: %d", prepared.box.ID(), pid)
		if err := pidFiles.RemovePIDFile(prepared.box.ID()); err != nil {
			return err
		}
	}

	proc, err := prepared.box.Enter(sandbox.ExecRoutineName, prepared.argv...)
	if err != nil {
		return err
	}

	if err := pidFiles.WritePIDFile(prepared.box.ID(), proc.Pid()); err != nil {
		prepared.logger.Errorf("Failed to record box pid, killing it, box: %d, error: %v", proc.BoxID(), err)
		_, _ = proc.Terminate(0)
		return err
	}

	fmt.Println(proc.Pid())
	return nil
}
