package resourcelimits

import (
	"math"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"
	"github.com/izoli/izoli/pkg/errors"
)

const (
	DefaultCPUPeriod = time.Duration(cgroup.DefaultCpuPeriod) * time.Microsecond

	// Bounds the kernel accepts for the cpu.max period.
	minCPUPeriod = time.Millisecond
	maxCPUPeriod = time.Second
)

// ValidateResourceLimits validates resource limits configuration
func ValidateResourceLimits(limits *ResourceLimits) error {
	if limits == nil {
		return nil
	}

	if limits.Memory != nil {
		if err := validateThreshold("memory", limits.Memory.WarningThreshold); err != nil {
			return err
		}
		if err := validatePolicy("memory", limits.Memory.Policy); err != nil {
			return err
		}
	}

	if cpu := limits.CPU; cpu != nil {
		if cpu.MaxCores < 0 {
			return errors.NewValidationError("CPU cores cannot be negative", nil).WithContext("max_cores", cpu.MaxCores)
		}
		if cpu.Period != 0 && (cpu.Period < minCPUPeriod || cpu.Period > maxCPUPeriod) {
			return errors.NewValidationError("CPU period must be between 1ms and 1s", nil).WithContext("period", cpu.Period)
		}
		if err := validateThreshold("cpu", cpu.WarningThreshold); err != nil {
			return err
		}
	}

	if p := limits.Process; p != nil {
		if p.MaxProcesses < 0 || uint64(p.MaxProcesses) > math.MaxUint32 {
			return errors.NewValidationError("max processes out of range", nil).WithContext("max_processes", p.MaxProcesses)
		}
		if err := validateThreshold("process", p.WarningThreshold); err != nil {
			return err
		}
		if err := validatePolicy("process", p.Policy); err != nil {
			return err
		}
	}

	if m := limits.Monitoring; m != nil && (m.Interval < 0 || m.HistoryRetention < 0) {
		return errors.NewValidationError("monitoring durations cannot be negative", nil)
	}

	return nil
}

func validateThreshold(limit string, threshold float64) error {
	if threshold < 0 || threshold > 100 {
		return errors.NewValidationError("warning threshold must be between 0 and 100", nil).WithContext("limit", limit).WithContext("threshold", threshold)
	}
	return nil
}

func validatePolicy(limit string, policy ResourcePolicy) error {
	switch policy {
	case "", ResourcePolicyNone, ResourcePolicyLog, ResourcePolicyGracefulShutdown, ResourcePolicyImmediateKill:
		return nil
	}
	return errors.NewValidationError("unsupported resource policy: "+string(policy), nil).WithContext("limit", limit)
}

// ToCgroupOption converts the limits to what the box leaf is written. Zero
// values leave the matching control file alone. Nil limits give a nil option.
func (l *ResourceLimits) ToCgroupOption() (*cgroup.Option, error) {
	if l == nil {
		return nil, nil
	}
	if err := ValidateResourceLimits(l); err != nil {
		return nil, err
	}

	option := &cgroup.Option{}

	if cpu := l.CPU; cpu != nil {
		if cpu.MaxCores > 0 {
			period := cpu.Period
			if period == 0 {
				period = DefaultCPUPeriod
			}
			periodUsec := uint64(period / time.Microsecond)
			quota := uint64(math.Ceil(cpu.MaxCores * float64(periodUsec)))
			option.CpuMax = &cgroup.CpuLimit{Max: cgroup.Value(quota), Period: periodUsec}
		}
		option.Cpus = cpu.Cpus
	}

	if l.Memory != nil && l.Memory.Max > 0 {
		memory := cgroup.Value(uint64(l.Memory.Max))
		option.MemoryMax = &memory
	}

	if l.Process != nil && l.Process.MaxProcesses > 0 {
		pids := cgroup.Value(uint32(l.Process.MaxProcesses))
		option.PidsMax = &pids
	}

	return option, nil
}
