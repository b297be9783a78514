//go:build linux

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/process"
	"github.com/izoli/izoli/pkg/processfile"
	"github.com/izoli/izoli/pkg/sandbox"
)

type killCommand struct {
	cli *cli

	ID         int           `long:"id" required:"true" description:"box id"`
	Grace      time.Duration `long:"grace" default:"5s" description:"time between SIGTERM and SIGKILL"`
	StateDir   string        `long:"state-dir" default:"/var/local/lib/izoli" description:"directory holding pid files"`
	CgroupRoot string        `long:"cgroup-root" default:"/sys/fs/cgroup" description:"cgroup v2 mount point"`
}

func (c *killCommand) Execute(args []string) error {
	logger, flush := c.cli.newLogger(logging.ZapConfig{})
	defer flush()

	return killBox(c.ID, c.Grace, c.StateDir, cgroup.DriverConfig{Root: c.CgroupRoot}, logger)
}

// killBox stops the detached box, then removes its pid file and cgroup leaf.
func killBox(id int, grace time.Duration, stateDir string, driver cgroup.DriverConfig, logger logging.Logger) error {
	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: stateDir}, logger)

	pid, err := pidFiles.ReadPIDFile(id)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Killing box, box: %d, pid: %d, grace: %v", id, pid, grace)
	if err := process.Terminate(ctx, pid, grace, logger); err != nil {
		return errors.NewProcessError("failed to stop box", err).WithContext("id", id).WithContext("pid", pid)
	}

	var cleanup errors.ErrorCollection
	cleanup.Add(pidFiles.RemovePIDFile(id))
	cleanup.Add(removeLeaf(id, driver, logger))
	return cleanup.ToError()
}

// removeLeaf deletes the box leaf when it is there, without creating it.
func removeLeaf(id int, driver cgroup.DriverConfig, logger logging.Logger) error {
	root := driver.Root
	if root == "" {
		root = cgroup.DefaultRoot
	}
	if info, err := os.Stat(filepath.Join(root, sandbox.CgroupLeafPath(id))); err != nil || !info.IsDir() {
		return nil
	}

	leaf, err := cgroup.NewControlGroupWithConfig(sandbox.CgroupLeafPath(id), driver, logger)
	if err != nil {
		return err
	}
	return leaf.Remove()
}
