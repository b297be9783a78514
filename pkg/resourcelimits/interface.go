package resourcelimits

import (
	"context"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
)

// ResourceLimitManager watches one box's cgroup leaf against its limits
type ResourceLimitManager interface {
	// Start begins monitoring and violation checks
	Start(ctx context.Context) error

	// Stop stops monitoring and waits for background work to finish
	Stop()

	GetLimits() *ResourceLimits

	// GetViolations returns the violations found by the latest check
	GetViolations() []*ResourceViolation

	// SetViolationCallback sets callback for critical violations
	SetViolationCallback(callback ResourceViolationCallback)
}

// ResourceMonitor samples usage of a cgroup leaf
type ResourceMonitor interface {
	GetCurrentUsage() (*ResourceUsage, error)

	Start(ctx context.Context) error

	Stop()

	// GetUsageHistory returns samples taken after since
	GetUsageHistory(since time.Time) []*ResourceUsage

	SetUsageCallback(callback ResourceUsageCallback)
}

// ResourceViolationChecker compares a usage sample with limits
type ResourceViolationChecker interface {
	CheckViolations(usage *ResourceUsage, limits *ResourceLimits) []*ResourceViolation
}

// UsageSource reads the usage counters of a cgroup leaf.
// *cgroup.ControlGroup implements it.
type UsageSource interface {
	GetMemoryCurrent() (uint64, error)
	GetPidsCurrent() (uint64, error)
	GetCPUStat() (cgroup.CPUStat, error)
}

type ResourceLimitType string

const (
	ResourceLimitTypeMemory  ResourceLimitType = "memory"
	ResourceLimitTypeCPU     ResourceLimitType = "cpu"
	ResourceLimitTypeProcess ResourceLimitType = "process"
)

// ResourceUsage is one sample of a box's usage
type ResourceUsage struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryCurrent uint64 `json:"memory_current"` // Bytes charged to the leaf
	PidsCurrent   uint64 `json:"pids_current"`   // Tasks in the leaf

	CPUUsageUsec uint64  `json:"cpu_usage_usec"` // Total CPU time consumed
	CPUPercent   float64 `json:"cpu_percent"`    // Since the previous sample, 100 per busy core
}

// ResourceViolation represents a resource limit violation
type ResourceViolation struct {
	LimitType    ResourceLimitType `json:"limit_type"`
	CurrentValue interface{}       `json:"current_value"`
	LimitValue   interface{}       `json:"limit_value"`
	Severity     ViolationSeverity `json:"severity"`
	Timestamp    time.Time         `json:"timestamp"`
	Message      string            `json:"message"`
}

// ViolationSeverity indicates how severe a resource violation is
type ViolationSeverity string

const (
	ViolationSeverityWarning  ViolationSeverity = "warning"
	ViolationSeverityCritical ViolationSeverity = "critical"
)

// ResourcePolicy defines what action to take when a limit is reached
type ResourcePolicy string

const (
	ResourcePolicyNone             ResourcePolicy = "none"              // No action
	ResourcePolicyLog              ResourcePolicy = "log"               // Log violation only
	ResourcePolicyGracefulShutdown ResourcePolicy = "graceful_shutdown" // SIGTERM then SIGKILL
	ResourcePolicyImmediateKill    ResourcePolicy = "immediate_kill"    // SIGKILL immediately
)

// ResourceLimits are a box's limits in human units. The kernel enforces the
// hard part through the cgroup leaf; thresholds and policies are ours.
type ResourceLimits struct {
	Memory     *MemoryLimits             `yaml:"memory,omitempty"`
	CPU        *CPULimits                `yaml:"cpu,omitempty"`
	Process    *ProcessLimits            `yaml:"process,omitempty"`
	Monitoring *ResourceMonitoringConfig `yaml:"monitoring,omitempty"`
}

type MemoryLimits struct {
	Max ByteSize `yaml:"max,omitempty"` // memory.max, "512M", "1g"

	WarningThreshold float64        `yaml:"warning_threshold,omitempty"` // Warning threshold (0-100%)
	Policy           ResourcePolicy `yaml:"policy,omitempty"`            // Action when the limit is reached
}

type CPULimits struct {
	MaxCores float64       `yaml:"max_cores,omitempty"` // cpu.max quota as a number of cores
	Period   time.Duration `yaml:"period,omitempty"`    // cpu.max period, 100ms by default
	Cpus     string        `yaml:"cpus,omitempty"`      // cpuset.cpus, "0-1,4"

	WarningThreshold float64 `yaml:"warning_threshold,omitempty"` // Warning threshold (0-100% of MaxCores)
}

type ProcessLimits struct {
	MaxProcesses int `yaml:"max_processes,omitempty"` // pids.max

	WarningThreshold float64        `yaml:"warning_threshold,omitempty"` // Warning threshold (0-100%)
	Policy           ResourcePolicy `yaml:"policy,omitempty"`            // Action when the limit is reached
}

type ResourceMonitoringConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval,omitempty"`          // Sampling interval
	HistoryRetention time.Duration `yaml:"history_retention,omitempty"` // How long to keep samples
}

// Callback types
type ResourceUsageCallback func(usage *ResourceUsage)
type ResourceViolationCallback func(policy ResourcePolicy, violation *ResourceViolation)
