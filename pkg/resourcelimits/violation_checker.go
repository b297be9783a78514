package resourcelimits

import (
	"fmt"
	"time"

	"github.com/docker/go-units"

	"github.com/izoli/izoli/pkg/logging"
)

type resourceViolationChecker struct {
	logger logging.Logger
}

func NewResourceViolationChecker(logger logging.Logger) ResourceViolationChecker {
	return &resourceViolationChecker{
		logger: logger,
	}
}

// CheckViolations checks for resource limit violations
func (rv *resourceViolationChecker) CheckViolations(usage *ResourceUsage, limits *ResourceLimits) []*ResourceViolation {
	if usage == nil || limits == nil {
		return nil
	}

	urv := &usageViolationsChecker{
		timestamp: usage.Timestamp,
		usage:     usage,
	}
	if urv.timestamp.IsZero() {
		urv.timestamp = time.Now()
	}

	var violations []*ResourceViolation

	if limits.Memory != nil {
		violations = append(violations, urv.checkMemoryViolations(limits.Memory)...)
	}

	if limits.CPU != nil {
		violations = append(violations, urv.checkCPUViolations(limits.CPU)...)
	}

	if limits.Process != nil {
		violations = append(violations, urv.checkProcessViolations(limits.Process)...)
	}

	return violations
}

type usageViolationsChecker struct {
	timestamp time.Time
	usage     *ResourceUsage
}

// checkMemoryViolations reports reaching memory.max as critical. The kernel
// reclaims or OOM-kills at that point, so usage never goes past it.
func (urv *usageViolationsChecker) checkMemoryViolations(limits *MemoryLimits) []*ResourceViolation {
	if limits.Max == 0 {
		return nil
	}

	current := urv.usage.MemoryCurrent
	max := uint64(limits.Max)

	if current >= max {
		return []*ResourceViolation{{
			LimitType:    ResourceLimitTypeMemory,
			CurrentValue: current,
			LimitValue:   max,
			Severity:     ViolationSeverityCritical,
			Timestamp:    urv.timestamp,
			Message:      fmt.Sprintf("Memory usage (%s) reached limit (%s)", units.BytesSize(float64(current)), limits.Max),
		}}
	}

	if limits.WarningThreshold > 0 {
		warningLimit := float64(max) * (limits.WarningThreshold / 100.0)
		if float64(current) > warningLimit {
			return []*ResourceViolation{{
				LimitType:    ResourceLimitTypeMemory,
				CurrentValue: current,
				LimitValue:   uint64(warningLimit),
				Severity:     ViolationSeverityWarning,
				Timestamp:    urv.timestamp,
				Message:      fmt.Sprintf("Memory usage (%s) exceeds warning threshold (%s)", units.BytesSize(float64(current)), units.BytesSize(warningLimit)),
			}}
		}
	}

	return nil
}

// checkCPUViolations only warns, cpu.max throttles instead of failing
func (urv *usageViolationsChecker) checkCPUViolations(limits *CPULimits) []*ResourceViolation {
	if limits.MaxCores <= 0 || limits.WarningThreshold <= 0 {
		return nil
	}

	warningLimit := limits.MaxCores * 100 * (limits.WarningThreshold / 100.0)
	if urv.usage.CPUPercent <= warningLimit {
		return nil
	}

	return []*ResourceViolation{{
		LimitType:    ResourceLimitTypeCPU,
		CurrentValue: urv.usage.CPUPercent,
		LimitValue:   warningLimit,
		Severity:     ViolationSeverityWarning,
		Timestamp:    urv.timestamp,
		Message:      fmt.Sprintf("CPU usage (%.1f%%) exceeds warning threshold (%.1f%%)", urv.usage.CPUPercent, warningLimit),
	}}
}

// checkProcessViolations checks pids.current against pids.max
func (urv *usageViolationsChecker) checkProcessViolations(limits *ProcessLimits) []*ResourceViolation {
	if limits.MaxProcesses <= 0 {
		return nil
	}

	current := urv.usage.PidsCurrent
	max := uint64(limits.MaxProcesses)

	if current >= max {
		return []*ResourceViolation{{
			LimitType:    ResourceLimitTypeProcess,
			CurrentValue: current,
			LimitValue:   max,
			Severity:     ViolationSeverityCritical,
			Timestamp:    urv.timestamp,
			Message:      fmt.Sprintf("Processes (%d) reached limit (%d)", current, max),
		}}
	}

	if limits.WarningThreshold > 0 {
		warningLimit := float64(max) * (limits.WarningThreshold / 100.0)
		if float64(current) > warningLimit {
			return []*ResourceViolation{{
				LimitType:    ResourceLimitTypeProcess,
				CurrentValue: current,
				LimitValue:   uint64(warningLimit),
				Severity:     ViolationSeverityWarning,
				Timestamp:    urv.timestamp,
				Message:      fmt.Sprintf("Processes (%d) exceed warning threshold (%.0f)", current, warningLimit),
			}}
		}
	}

	return nil
}
