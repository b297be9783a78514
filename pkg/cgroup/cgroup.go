// Package cgroup drives cgroup v2 nodes through their control files.
//
// Every control file is one of four shapes: a bare token, a "max"-or-number
// scalar (LimitValue), a "max"-or-number plus period pair (CpuLimit), or a
// whitespace/newline separated list. Types here parse strictly; the
// ControlGroup accessors that read controller lists deliberately map names
// they do not know to ControllerUnknown so newer kernels keep working.
package cgroup

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
)

const (
	FileType           = "cgroup.type"
	FileProcs          = "cgroup.procs"
	FileThreads        = "cgroup.threads"
	FileControllers    = "cgroup.controllers"
	FileSubtreeControl = "cgroup.subtree_control"
	FileStat           = "cgroup.stat"
	FileMaxDepth       = "cgroup.max.depth"
	FileMaxDescendants = "cgroup.max.descendants"
	FileCpuMax         = "cpu.max"
	FileCpuStat        = "cpu.stat"
	FileMemoryMax      = "memory.max"
	FileMemoryCurrent  = "memory.current"
	FilePidsMax        = "pids.max"
	FilePidsCurrent    = "pids.current"
	FileCpusetCpus     = "cpuset.cpus"
)

// DriverConfig relocates the driver, mostly for tests.
type DriverConfig struct {
	// Root of the unified hierarchy; DefaultRoot when empty.
	Root string
	// Files defaults to the real filesystem.
	Files ControlFiles
}

// ControlGroup is one node of the unified hierarchy, addressed by its path
// relative to the root.
type ControlGroup struct {
	path   string
	root   string
	files  ControlFiles
	logger logging.Logger
}

// NewControlGroup opens the node at path under DefaultRoot, creating it when
// it does not exist yet.
func NewControlGroup(path string, logger logging.Logger) (*ControlGroup, error) {
	return NewControlGroupWithConfig(path, DriverConfig{}, logger)
}

func NewControlGroupWithConfig(path string, config DriverConfig, logger logging.Logger) (*ControlGroup, error) {
	if config.Root == "" {
		config.Root = DefaultRoot
	}
	if config.Files == nil {
		config.Files = NewOSControlFiles()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	cleaned := filepath.Clean("/" + path)
	if cleaned == "/" {
		return nil, errors.NewValidationError("cgroup path must name a node below the root", nil).WithContext("path", path)
	}

	cg := &ControlGroup{
		path:   strings.TrimPrefix(cleaned, "/"),
		root:   config.Root,
		files:  config.Files,
		logger: logger,
	}

	if !cg.Exists() {
		logger.Debugf("Creating cgroup node, path: %s", cg.RootPath())
		if err := cg.files.MkdirAll(cg.RootPath()); err != nil {
			return nil, errors.NewOSError("failed to create cgroup node", err).WithContext("path", cg.RootPath())
		}
	}

	return cg, nil
}

// Path is the node path relative to the hierarchy root.
func (cg *ControlGroup) Path() string {
	return cg.path
}

// RootPath is the absolute directory of the node.
func (cg *ControlGroup) RootPath() string {
	return filepath.Join(cg.root, cg.path)
}

func (cg *ControlGroup) FilePath(name string) string {
	return filepath.Join(cg.RootPath(), name)
}

func (cg *ControlGroup) Exists() bool {
	return cg.files.IsDir(cg.RootPath())
}

// Read returns the whole content of a control file.
func (cg *ControlGroup) Read(name string) (string, error) {
	content, err := cg.files.ReadFile(cg.FilePath(name))
	if err != nil {
		return "", errors.NewOSError("failed to read control file", err).WithContext("file", cg.FilePath(name))
	}
	return content, nil
}

// Write appends data to a control file in a single write. The kernel treats
// the write as a command, so nothing is truncated.
func (cg *ControlGroup) Write(name string, data string) error {
	cg.logger.Debugf("Writing control file, file: %s, data: %q", cg.FilePath(name), data)
	if err := cg.files.AppendFile(cg.FilePath(name), data); err != nil {
		return errors.NewOSError("failed to write control file", err).WithContext("file", cg.FilePath(name))
	}
	return nil
}

// Remove deletes the node. A node that still has members or children is
// left alone without error, as is one that is already gone.
func (cg *ControlGroup) Remove() error {
	err := cg.files.Remove(cg.RootPath())
	switch {
	case err == nil:
		cg.logger.Debugf("Removed cgroup node, path: %s", cg.RootPath())
		return nil
	case stderrors.Is(err, unix.EBUSY), stderrors.Is(err, unix.ENOTEMPTY), stderrors.Is(err, os.ErrNotExist):
		cg.logger.Debugf("Cgroup node not removed, path: %s, reason: %v", cg.RootPath(), err)
		return nil
	default:
		return errors.NewOSError("failed to remove cgroup node", err).WithContext("path", cg.RootPath())
	}
}

// Enter moves the calling process into the node.
func (cg *ControlGroup) Enter() error {
	return cg.AddProcs([]uint32{uint32(os.Getpid())})
}

func (cg *ControlGroup) GetType() (string, error) {
	content, err := cg.Read(FileType)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (cg *ControlGroup) GetControllers() ([]Controller, error) {
	return cg.readControllers(FileControllers)
}

func (cg *ControlGroup) GetSubtreeControl() ([]Controller, error) {
	return cg.readControllers(FileSubtreeControl)
}

func (cg *ControlGroup) readControllers(name string) ([]Controller, error) {
	content, err := cg.Read(name)
	if err != nil {
		return nil, err
	}
	return parseControllerList(content), nil
}

// AddSubtreeControl enables controllers for the children of this node.
func (cg *ControlGroup) AddSubtreeControl(controllers []Controller) error {
	return cg.Write(FileSubtreeControl, formatControllerDelta("+", controllers))
}

// RemoveSubtreeControl disables controllers for the children of this node.
func (cg *ControlGroup) RemoveSubtreeControl(controllers []Controller) error {
	return cg.Write(FileSubtreeControl, formatControllerDelta("-", controllers))
}

// EnsureSubtreeControl enables whichever of controllers are not enabled for
// the children of this node yet, in one write. Nothing is written when all
// of them already are.
func (cg *ControlGroup) EnsureSubtreeControl(controllers []Controller) error {
	enabled, err := cg.GetSubtreeControl()
	if err != nil {
		return err
	}

	present := make(map[Controller]bool, len(enabled))
	for _, c := range enabled {
		present[c] = true
	}

	var missing []Controller
	for _, c := range controllers {
		if !present[c] {
			missing = append(missing, c)
			present[c] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}

	cg.logger.Debugf("Enabling subtree controllers, path: %s, controllers: %s", cg.path, formatControllerDelta("+", missing))
	return cg.AddSubtreeControl(missing)
}

func (cg *ControlGroup) GetProcs() ([]uint32, error) {
	return cg.readIDList(FileProcs)
}

func (cg *ControlGroup) GetThreads() ([]uint32, error) {
	return cg.readIDList(FileThreads)
}

// AddProcs writes all ids newline-joined in one write.
func (cg *ControlGroup) AddProcs(pids []uint32) error {
	return cg.Write(FileProcs, joinIDs(pids))
}

// AddThreads writes all ids newline-joined in one write.
func (cg *ControlGroup) AddThreads(tids []uint32) error {
	return cg.Write(FileThreads, joinIDs(tids))
}

func (cg *ControlGroup) GetStat() (Stat, error) {
	content, err := cg.Read(FileStat)
	if err != nil {
		return Stat{}, err
	}
	stat, err := ParseStat(content)
	if err != nil {
		return Stat{}, withFile(err, cg.FilePath(FileStat))
	}
	return stat, nil
}

func (cg *ControlGroup) GetMaxDepth() (LimitValue[uint64], error) {
	return readLimit[uint64](cg, FileMaxDepth)
}

func (cg *ControlGroup) SetMaxDepth(max LimitValue[uint64]) error {
	return cg.Write(FileMaxDepth, max.String())
}

func (cg *ControlGroup) GetMaxDescendants() (LimitValue[uint64], error) {
	return readLimit[uint64](cg, FileMaxDescendants)
}

func (cg *ControlGroup) SetMaxDescendants(max LimitValue[uint64]) error {
	return cg.Write(FileMaxDescendants, max.String())
}

func (cg *ControlGroup) GetCpuMax() (CpuLimit, error) {
	content, err := cg.Read(FileCpuMax)
	if err != nil {
		return CpuLimit{}, err
	}
	limit, err := ParseCpuLimit(content)
	if err != nil {
		return CpuLimit{}, withFile(err, cg.FilePath(FileCpuMax))
	}
	return limit, nil
}

func (cg *ControlGroup) GetMemoryMax() (LimitValue[uint64], error) {
	return readLimit[uint64](cg, FileMemoryMax)
}

func (cg *ControlGroup) GetPidsMax() (LimitValue[uint32], error) {
	return readLimit[uint32](cg, FilePidsMax)
}

func (cg *ControlGroup) GetCpusetCpus() (string, error) {
	content, err := cg.Read(FileCpusetCpus)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// GetMemoryCurrent returns the bytes currently charged to the node.
func (cg *ControlGroup) GetMemoryCurrent() (uint64, error) {
	return cg.readCounter(FileMemoryCurrent)
}

// GetPidsCurrent returns the number of tasks in the node and its descendants.
func (cg *ControlGroup) GetPidsCurrent() (uint64, error) {
	return cg.readCounter(FilePidsCurrent)
}

func (cg *ControlGroup) GetCPUStat() (CPUStat, error) {
	content, err := cg.Read(FileCpuStat)
	if err != nil {
		return CPUStat{}, err
	}
	stat, err := ParseCPUStat(content)
	if err != nil {
		return CPUStat{}, withFile(err, cg.FilePath(FileCpuStat))
	}
	return stat, nil
}

// ApplyOptions writes cpu.max, memory.max, pids.max and cpuset.cpus, in that
// order, skipping unset fields. The first failed write stops the sequence;
// limits already written stay in place.
func (cg *ControlGroup) ApplyOptions(option *Option) error {
	if option == nil {
		return nil
	}

	cg.logger.Infof("Applying cgroup options, path: %s, options: %s", cg.path, describeOption(option))

	if option.CpuMax != nil {
		if err := cg.Write(FileCpuMax, option.CpuMax.String()); err != nil {
			return err
		}
	}
	if option.MemoryMax != nil {
		if err := cg.Write(FileMemoryMax, option.MemoryMax.String()); err != nil {
			return err
		}
	}
	if option.PidsMax != nil {
		if err := cg.Write(FilePidsMax, option.PidsMax.String()); err != nil {
			return err
		}
	}
	if option.Cpus != "" {
		if err := cg.Write(FileCpusetCpus, option.Cpus); err != nil {
			return err
		}
	}
	return nil
}

// GetSelfCgroup returns the trimmed content of /proc/self/cgroup.
func GetSelfCgroup() (string, error) {
	return readSelfCgroup(NewOSControlFiles(), SelfCgroupFile)
}

func readSelfCgroup(files ControlFiles, file string) (string, error) {
	content, err := files.ReadFile(file)
	if err != nil {
		return "", errors.NewOSError("failed to read own cgroup membership", err).WithContext("file", file)
	}
	return strings.TrimSpace(content), nil
}

func readLimit[T Unsigned](cg *ControlGroup, name string) (LimitValue[T], error) {
	content, err := cg.Read(name)
	if err != nil {
		return LimitValue[T]{}, err
	}
	value, err := ParseLimitValue[T](content)
	if err != nil {
		return LimitValue[T]{}, withFile(err, cg.FilePath(name))
	}
	return value, nil
}

func (cg *ControlGroup) readCounter(name string) (uint64, error) {
	content, err := cg.Read(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(strings.TrimSpace(content), 10, 64)
	if err != nil {
		return 0, errors.NewParseError("invalid counter", err).WithContext("file", cg.FilePath(name))
	}
	return value, nil
}

// readIDList parses one id per line. A single bad line fails the call.
func (cg *ControlGroup) readIDList(name string) ([]uint32, error) {
	content, err := cg.Read(name)
	if err != nil {
		return nil, err
	}

	ids := []uint32{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			return nil, errors.NewParseError("unexpected line in id list", err).
				WithContext("file", cg.FilePath(name)).
				WithContext("line", line)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

func joinIDs(ids []uint32) string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tokens = append(tokens, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(tokens, "\n")
}

func withFile(err error, file string) error {
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.WithContext("file", file)
	}
	return err
}

func describeOption(option *Option) string {
	parts := []string{}
	if option.CpuMax != nil {
		parts = append(parts, "cpu.max="+option.CpuMax.String())
	}
	if option.MemoryMax != nil {
		parts = append(parts, "memory.max="+option.MemoryMax.String())
	}
	if option.PidsMax != nil {
		parts = append(parts, "pids.max="+option.PidsMax.String())
	}
	if option.Cpus != "" {
		parts = append(parts, "cpuset.cpus="+option.Cpus)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
