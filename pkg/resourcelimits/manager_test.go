package resourcelimits

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/izoli/izoli/pkg/cgroup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLogger discards everything
type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

type fakeUsageSource struct {
	mutex  sync.Mutex
	memory uint64
	pids   uint64
	cpu    uint64
	err    error
}

func (f *fakeUsageSource) set(memory, pids, cpu uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.memory, f.pids, f.cpu = memory, pids, cpu
}

func (f *fakeUsageSource) GetMemoryCurrent() (uint64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.memory, f.err
}

func (f *fakeUsageSource) GetPidsCurrent() (uint64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.pids, f.err
}

func (f *fakeUsageSource) GetCPUStat() (cgroup.CPUStat, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return cgroup.CPUStat{UsageUsec: f.cpu}, f.err
}

type fakeTarget struct {
	mutex       sync.Mutex
	signals     []os.Signal
	terminated  []time.Duration
	terminating chan struct{}
}

func (f *fakeTarget) Signal(sig os.Signal) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeTarget) Terminate(grace time.Duration) (int, error) {
	f.mutex.Lock()
	f.terminated = append(f.terminated, grace)
	f.mutex.Unlock()
	if f.terminating != nil {
		<-f.terminating
	}
	return 143, nil
}

func TestMonitor_CPUPercentFromDelta(t *testing.T) {
	source := &fakeUsageSource{}
	monitor := newResourceMonitor(1, source, nil, &TestLogger{})

	base := time.Unix(1000, 0)
	monitor.now = func() time.Time { return base }
	source.set(4096, 2, 1_000_000)

	first, err := monitor.GetCurrentUsage()
	require.NoError(t, err)
	assert.Zero(t, first.CPUPercent)
	assert.Equal(t, uint64(4096), first.MemoryCurrent)
	assert.Equal(t, uint64(2), first.PidsCurrent)

	// 1.5s of CPU over 1s of wall time
	monitor.now = func() time.Time { return base.Add(time.Second) }
	source.set(4096, 2, 2_500_000)

	second, err := monitor.GetCurrentUsage()
	require.NoError(t, err)
	assert.InDelta(t, 150.0, second.CPUPercent, 0.001)
}

func TestMonitor_ReadFailure(t *testing.T) {
	source := &fakeUsageSource{err: errors.New("gone")}
	monitor := NewResourceMonitor(1, source, nil, &TestLogger{})

	_, err := monitor.GetCurrentUsage()
	assert.Error(t, err)
}

func TestMonitor_HistoryRetention(t *testing.T) {
	monitor := newResourceMonitor(1, &fakeUsageSource{}, &ResourceMonitoringConfig{Enabled: true, HistoryRetention: time.Minute}, &TestLogger{})

	base := time.Unix(1000, 0)
	for _, offset := range []time.Duration{0, 30 * time.Second, 90 * time.Second, 100 * time.Second} {
		monitor.addToHistory(&ResourceUsage{Timestamp: base.Add(offset)})
	}

	history := monitor.GetUsageHistory(time.Time{})
	require.Len(t, history, 2)
	assert.Equal(t, base.Add(90*time.Second), history[0].Timestamp)

	assert.Len(t, monitor.GetUsageHistory(base.Add(95*time.Second)), 1)
}

func TestMonitor_StartStop(t *testing.T) {
	source := &fakeUsageSource{}
	source.set(1, 1, 1)
	monitor := NewResourceMonitor(1, source, &ResourceMonitoringConfig{Enabled: true, Interval: 5 * time.Millisecond}, &TestLogger{})

	samples := make(chan *ResourceUsage, 16)
	monitor.SetUsageCallback(func(usage *ResourceUsage) {
		select {
		case samples <- usage:
		default:
		}
	})

	require.NoError(t, monitor.Start(context.Background()))
	assert.Error(t, monitor.Start(context.Background()))

	select {
	case usage := <-samples:
		assert.Equal(t, uint64(1), usage.MemoryCurrent)
	case <-time.After(2 * time.Second):
		t.Fatal("no usage sample collected")
	}

	monitor.Stop()
	monitor.Stop()
	assert.NotEmpty(t, monitor.GetUsageHistory(time.Time{}))
}

func TestMonitor_Disabled(t *testing.T) {
	monitor := NewResourceMonitor(1, &fakeUsageSource{}, &ResourceMonitoringConfig{Enabled: false}, &TestLogger{})
	require.NoError(t, monitor.Start(context.Background()))
	monitor.Stop()
}

func TestViolationChecker(t *testing.T) {
	limits := &ResourceLimits{
		Memory:  &MemoryLimits{Max: 1000, WarningThreshold: 80},
		CPU:     &CPULimits{MaxCores: 2, WarningThreshold: 50},
		Process: &ProcessLimits{MaxProcesses: 10, WarningThreshold: 50},
	}
	checker := NewResourceViolationChecker(&TestLogger{})

	tests := []struct {
		name     string
		usage    *ResourceUsage
		expected map[ResourceLimitType]ViolationSeverity
	}{
		{
			name:     "quiet",
			usage:    &ResourceUsage{MemoryCurrent: 100, PidsCurrent: 1, CPUPercent: 10},
			expected: map[ResourceLimitType]ViolationSeverity{},
		},
		{
			name:  "warnings",
			usage: &ResourceUsage{MemoryCurrent: 900, PidsCurrent: 6, CPUPercent: 120},
			expected: map[ResourceLimitType]ViolationSeverity{
				ResourceLimitTypeMemory:  ViolationSeverityWarning,
				ResourceLimitTypeCPU:     ViolationSeverityWarning,
				ResourceLimitTypeProcess: ViolationSeverityWarning,
			},
		},
		{
			name:  "limits_reached",
			usage: &ResourceUsage{MemoryCurrent: 1000, PidsCurrent: 10},
			expected: map[ResourceLimitType]ViolationSeverity{
				ResourceLimitTypeMemory:  ViolationSeverityCritical,
				ResourceLimitTypeProcess: ViolationSeverityCritical,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[ResourceLimitType]ViolationSeverity{}
			for _, v := range checker.CheckViolations(tt.usage, limits) {
				got[v.LimitType] = v.Severity
				assert.NotEmpty(t, v.Message)
			}
			assert.Equal(t, tt.expected, got)
		})
	}

	assert.Nil(t, checker.CheckViolations(nil, limits))
	assert.Nil(t, checker.CheckViolations(&ResourceUsage{}, nil))
}

func TestManager_DispatchesCriticalViolations(t *testing.T) {
	source := &fakeUsageSource{}
	limits := &ResourceLimits{
		Memory:  &MemoryLimits{Max: 1000, WarningThreshold: 50, Policy: ResourcePolicyImmediateKill},
		Process: &ProcessLimits{MaxProcesses: 4},
	}
	manager := NewResourceLimitManager(3, source, limits, &TestLogger{}).(*resourceLimitManager)

	type dispatched struct {
		policy    ResourcePolicy
		limitType ResourceLimitType
	}
	var calls []dispatched
	manager.SetViolationCallback(func(policy ResourcePolicy, violation *ResourceViolation) {
		calls = append(calls, dispatched{policy, violation.LimitType})
	})

	// Warning only
	manager.onUsageUpdate(&ResourceUsage{MemoryCurrent: 600})
	assert.Empty(t, calls)
	assert.Len(t, manager.GetViolations(), 1)

	// Memory critical with a kill policy, pids critical with the default log policy
	manager.onUsageUpdate(&ResourceUsage{MemoryCurrent: 1000, PidsCurrent: 4})
	assert.Equal(t, []dispatched{{ResourcePolicyImmediateKill, ResourceLimitTypeMemory}}, calls)
	assert.Len(t, manager.GetViolations(), 2)
	assert.Same(t, limits, manager.GetLimits())
}

func TestManager_NoLimits(t *testing.T) {
	manager := NewResourceLimitManager(1, &fakeUsageSource{}, nil, &TestLogger{})
	require.NoError(t, manager.Start(context.Background()))
	manager.Stop()
	assert.Empty(t, manager.GetViolations())
}

func TestManager_EndToEnd(t *testing.T) {
	source := &fakeUsageSource{}
	source.set(2048, 1, 0)
	limits := &ResourceLimits{
		Memory:     &MemoryLimits{Max: 1024, Policy: ResourcePolicyGracefulShutdown},
		Monitoring: &ResourceMonitoringConfig{Enabled: true, Interval: 5 * time.Millisecond},
	}

	target := &fakeTarget{}
	callback, wait := NewPolicyEnforcer(target, 3*time.Second, &TestLogger{})

	manager := NewResourceLimitManager(7, source, limits, &TestLogger{})
	manager.SetViolationCallback(callback)
	require.NoError(t, manager.Start(context.Background()))

	require.Eventually(t, func() bool {
		target.mutex.Lock()
		defer target.mutex.Unlock()
		return len(target.terminated) > 0
	}, 2*time.Second, 5*time.Millisecond)

	manager.Stop()
	wait()

	assert.Equal(t, []time.Duration{3 * time.Second}, target.terminated)
	assert.Empty(t, target.signals)
}

func TestPolicyEnforcer_ActsOnce(t *testing.T) {
	target := &fakeTarget{}
	callback, wait := NewPolicyEnforcer(target, time.Second, &TestLogger{})

	violation := &ResourceViolation{LimitType: ResourceLimitTypeProcess, Message: "too many"}
	callback("bogus", violation)
	callback(ResourcePolicyImmediateKill, violation)
	callback(ResourcePolicyImmediateKill, violation)
	callback(ResourcePolicyGracefulShutdown, violation)
	wait()

	assert.Equal(t, []os.Signal{syscall.SIGKILL}, target.signals)
	assert.Empty(t, target.terminated)
}
