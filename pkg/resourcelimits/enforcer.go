package resourcelimits

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/izoli/izoli/pkg/logging"
)

// EnforcementTarget is the box process a policy acts on.
// *sandbox.Process implements it.
type EnforcementTarget interface {
	Signal(sig os.Signal) error
	Terminate(grace time.Duration) (int, error)
}

// NewPolicyEnforcer returns a violation callback that applies the policy to
// target. Only the first enforced violation acts; the box is going away.
// The returned wait function blocks until that enforcement finished.
func NewPolicyEnforcer(target EnforcementTarget, grace time.Duration, logger logging.Logger) (ResourceViolationCallback, func()) {
	var once sync.Once
	var wg sync.WaitGroup

	callback := func(policy ResourcePolicy, violation *ResourceViolation) {
		switch policy {
		case ResourcePolicyGracefulShutdown, ResourcePolicyImmediateKill:
		default:
			logger.Warnf("Unknown resource policy: %s", policy)
			return
		}

		once.Do(func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				enforce(target, grace, policy, violation, logger)
			}()
		})
	}

	return callback, wg.Wait
}

func enforce(target EnforcementTarget, grace time.Duration, policy ResourcePolicy, violation *ResourceViolation, logger logging.Logger) {
	switch policy {
	case ResourcePolicyGracefulShutdown:
		logger.Errorf("Resource limit reached, shutting box down, policy: %s, message: %s", policy, violation.Message)
		if _, err := target.Terminate(grace); err != nil {
			logger.Errorf("Failed to shut box down after resource violation: %v", err)
		}

	case ResourcePolicyImmediateKill:
		logger.Errorf("Resource limit reached, killing box, policy: %s, message: %s", policy, violation.Message)
		if err := target.Signal(syscall.SIGKILL); err != nil {
			logger.Errorf("Failed to kill box after resource violation: %v", err)
		}
	}
}
