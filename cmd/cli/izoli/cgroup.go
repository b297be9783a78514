//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
)

type cgroupCommand struct {
	cli *cli

	Path string `long:"path" description:"node path relative to the root"`
	Self bool   `long:"self" description:"show the node this process belongs to"`
	Root string `long:"root" default:"/sys/fs/cgroup" description:"cgroup v2 mount point"`
}

func (c *cgroupCommand) Execute(args []string) error {
	logger, flush := c.cli.newLogger(logging.ZapConfig{})
	defer flush()

	nodePath := c.Path
	if c.Self {
		self, err := cgroup.GetSelfCgroup()
		if err != nil {
			return err
		}
		// The unified hierarchy's line is "0::<path>".
		nodePath = strings.TrimPrefix(self, "0::")
	}
	if nodePath == "" {
		return errors.NewValidationError("either --path or --self is required", nil)
	}

	// Inspecting must not create the node.
	dir := filepath.Join(c.Root, nodePath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return errors.NewNotFoundError("cgroup node does not exist", err).WithContext("path", dir)
	}

	cg, err := cgroup.NewControlGroupWithConfig(nodePath, cgroup.DriverConfig{Root: c.Root}, logger)
	if err != nil {
		return err
	}

	printControlGroup(os.Stdout, cg)
	return nil
}

// printControlGroup writes one "name: value" line per file; files the node
// does not have print as "-".
func printControlGroup(w io.Writer, cg *cgroup.ControlGroup) {
	line := func(name string, value interface{}, err error) {
		if err != nil {
			fmt.Fprintf(w, "%-18s -\n", name+":")
			return
		}
		fmt.Fprintf(w, "%-18s %v\n", name+":", value)
	}

	fmt.Fprintf(w, "%-18s %s\n", "path:", cg.RootPath())

	cgType, err := cg.GetType()
	line(cgroup.FileType, cgType, err)

	controllers, err := cg.GetControllers()
	line(cgroup.FileControllers, joinControllers(controllers), err)

	subtree, err := cg.GetSubtreeControl()
	line(cgroup.FileSubtreeControl, joinControllers(subtree), err)

	procs, err := cg.GetProcs()
	line(cgroup.FileProcs, procs, err)

	stat, err := cg.GetStat()
	line(cgroup.FileStat, fmt.Sprintf("nr_descendants %d, nr_dying_descendants %d", stat.NrDescendants, stat.NrDyingDescendants), err)

	cpuMax, err := cg.GetCpuMax()
	line(cgroup.FileCpuMax, cpuMax, err)

	memoryMax, err := cg.GetMemoryMax()
	line(cgroup.FileMemoryMax, formatMemoryLimit(memoryMax), err)

	memoryCurrent, err := cg.GetMemoryCurrent()
	line(cgroup.FileMemoryCurrent, units.BytesSize(float64(memoryCurrent)), err)

	pidsMax, err := cg.GetPidsMax()
	line(cgroup.FilePidsMax, pidsMax, err)

	pidsCurrent, err := cg.GetPidsCurrent()
	line(cgroup.FilePidsCurrent, pidsCurrent, err)

	cpuStat, err := cg.GetCPUStat()
	line(cgroup.FileCpuStat, fmt.Sprintf("usage_usec %d, user_usec %d, system_usec %d", cpuStat.UsageUsec, cpuStat.UserUsec, cpuStat.SystemUsec), err)

	cpus, err := cg.GetCpusetCpus()
	line(cgroup.FileCpusetCpus, cpus, err)
}

func joinControllers(controllers []cgroup.Controller) string {
	names := make([]string, len(controllers))
	for i, c := range controllers {
		names[i] = c.String()
	}
	return strings.Join(names, " ")
}

func formatMemoryLimit(limit cgroup.LimitValue[uint64]) string {
	if bytes, ok := limit.Get(); ok {
		return units.BytesSize(float64(bytes))
	}
	return limit.String()
}
