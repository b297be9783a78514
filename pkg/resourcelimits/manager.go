package resourcelimits

import (
	"context"
	"sync"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
)

// resourceLimitManager checks every usage sample of a box against its limits
type resourceLimitManager struct {
	boxID            int
	limits           *ResourceLimits
	monitor          ResourceMonitor
	violationChecker ResourceViolationChecker
	logger           logging.Logger

	mutex sync.RWMutex

	// State
	isRunning  bool
	violations []*ResourceViolation

	violationCallback ResourceViolationCallback
}

// NewResourceLimitManager creates a manager for the box whose leaf is source
func NewResourceLimitManager(boxID int, source UsageSource, limits *ResourceLimits, logger logging.Logger) ResourceLimitManager {
	var monitoringConfig *ResourceMonitoringConfig
	if limits != nil {
		monitoringConfig = limits.Monitoring
	}

	return &resourceLimitManager{
		boxID:            boxID,
		limits:           limits,
		monitor:          NewResourceMonitor(boxID, source, monitoringConfig, logger),
		violationChecker: NewResourceViolationChecker(logger),
		logger:           logger,
		violations:       make([]*ResourceViolation, 0),
	}
}

// Start begins resource monitoring and violation checks
func (rlm *resourceLimitManager) Start(ctx context.Context) error {
	rlm.mutex.Lock()
	defer rlm.mutex.Unlock()

	if rlm.isRunning {
		return errors.NewValidationError("resource limit manager is already running", nil).WithContext("box_id", rlm.boxID)
	}

	if rlm.limits == nil {
		rlm.logger.Infof("No resource limits configured, box_id: %d", rlm.boxID)
		return nil
	}

	rlm.monitor.SetUsageCallback(rlm.onUsageUpdate)

	if err := rlm.monitor.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start resource monitoring", err).WithContext("box_id", rlm.boxID)
	}

	rlm.isRunning = true

	rlm.logger.Infof("Resource limit management started, box_id: %d", rlm.boxID)
	return nil
}

// Stop stops resource monitoring
func (rlm *resourceLimitManager) Stop() {
	rlm.mutex.Lock()
	if !rlm.isRunning {
		rlm.mutex.Unlock()
		return
	}
	rlm.isRunning = false
	rlm.mutex.Unlock()

	// The monitor callback takes the mutex, so stop it unlocked.
	rlm.monitor.Stop()

	rlm.logger.Infof("Resource limit management stopped, box_id: %d", rlm.boxID)
}

func (rlm *resourceLimitManager) GetLimits() *ResourceLimits {
	return rlm.limits
}

// GetViolations returns the violations found by the latest check
func (rlm *resourceLimitManager) GetViolations() []*ResourceViolation {
	rlm.mutex.RLock()
	defer rlm.mutex.RUnlock()

	violations := make([]*ResourceViolation, len(rlm.violations))
	copy(violations, rlm.violations)
	return violations
}

// SetViolationCallback sets a callback for handling critical violations
func (rlm *resourceLimitManager) SetViolationCallback(callback ResourceViolationCallback) {
	rlm.mutex.Lock()
	defer rlm.mutex.Unlock()
	rlm.violationCallback = callback
}

func (rlm *resourceLimitManager) onUsageUpdate(usage *ResourceUsage) {
	violations := rlm.violationChecker.CheckViolations(usage, rlm.limits)

	rlm.mutex.Lock()
	rlm.violations = violations
	callback := rlm.violationCallback
	rlm.mutex.Unlock()

	for _, violation := range violations {
		rlm.dispatchViolation(violation, callback)
	}
}

func (rlm *resourceLimitManager) dispatchViolation(violation *ResourceViolation, callback ResourceViolationCallback) {
	rlm.logger.Warnf("Resource violation, box_id: %d, severity: %s, message: %s", rlm.boxID, violation.Severity, violation.Message)

	if violation.Severity != ViolationSeverityCritical {
		return
	}

	policy := rlm.getPolicyByLimitType(violation.LimitType)
	if policy == ResourcePolicyNone || policy == ResourcePolicyLog {
		return
	}

	if callback == nil {
		rlm.logger.Warnf("No violation callback set, box_id: %d, policy: %s", rlm.boxID, policy)
		return
	}

	callback(policy, violation)
}

// getPolicyByLimitType returns the configured policy, "log" when unset
func (rlm *resourceLimitManager) getPolicyByLimitType(limitType ResourceLimitType) ResourcePolicy {
	var policy ResourcePolicy

	switch limitType {
	case ResourceLimitTypeMemory:
		if rlm.limits.Memory != nil {
			policy = rlm.limits.Memory.Policy
		}
	case ResourceLimitTypeProcess:
		if rlm.limits.Process != nil {
			policy = rlm.limits.Process.Policy
		}
	default:
		rlm.logger.Warnf("No policy for resource limit type: %s", limitType)
	}

	if policy == "" {
		return ResourcePolicyLog
	}
	return policy
}
