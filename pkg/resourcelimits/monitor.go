package resourcelimits

import (
	"context"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/logging"
)

const (
	DefaultMonitoringInterval = 5 * time.Second
	DefaultHistoryRetention   = time.Hour
)

// resourceMonitor implements ResourceMonitor over a cgroup leaf
type resourceMonitor struct {
	boxID  int
	source UsageSource
	config *ResourceMonitoringConfig
	logger logging.Logger

	now func() time.Time

	usageCallback ResourceUsageCallback

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.RWMutex

	// State
	isRunning    bool
	usageHistory []*ResourceUsage
	lastSample   *ResourceUsage
}

// NewResourceMonitor creates a monitor reading usage from source
func NewResourceMonitor(boxID int, source UsageSource, config *ResourceMonitoringConfig, logger logging.Logger) ResourceMonitor {
	return newResourceMonitor(boxID, source, config, logger)
}

func newResourceMonitor(boxID int, source UsageSource, config *ResourceMonitoringConfig, logger logging.Logger) *resourceMonitor {
	effective := ResourceMonitoringConfig{Enabled: true}
	if config != nil {
		effective = *config
	}
	if effective.Interval == 0 {
		effective.Interval = DefaultMonitoringInterval
	}
	if effective.HistoryRetention == 0 {
		effective.HistoryRetention = DefaultHistoryRetention
	}

	return &resourceMonitor{
		boxID:        boxID,
		source:       source,
		config:       &effective,
		logger:       logger,
		now:          time.Now,
		usageHistory: make([]*ResourceUsage, 0),
	}
}

// Start begins resource monitoring
func (rm *resourceMonitor) Start(ctx context.Context) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.isRunning {
		return errors.NewValidationError("resource monitor is already running", nil).WithContext("box_id", rm.boxID)
	}

	if !rm.config.Enabled {
		rm.logger.Infof("Resource monitoring disabled, box_id: %d", rm.boxID)
		return nil
	}

	rm.ctx, rm.cancel = context.WithCancel(ctx)
	rm.isRunning = true

	rm.logger.Infof("Starting resource monitoring, box_id: %d, interval: %v", rm.boxID, rm.config.Interval)

	rm.wg.Add(1)
	go rm.monitorLoop(rm.ctx)

	return nil
}

// Stop stops resource monitoring
func (rm *resourceMonitor) Stop() {
	rm.mutex.Lock()
	if !rm.isRunning {
		rm.mutex.Unlock()
		return
	}
	rm.cancel()
	rm.isRunning = false
	rm.mutex.Unlock()

	// The loop takes the mutex to store samples, so wait outside of it.
	rm.wg.Wait()

	rm.logger.Infof("Resource monitoring stopped, box_id: %d", rm.boxID)
}

// GetCurrentUsage reads the leaf counters. CPUPercent is computed against
// the previous sample and is zero for the first one.
func (rm *resourceMonitor) GetCurrentUsage() (*ResourceUsage, error) {
	memory, err := rm.source.GetMemoryCurrent()
	if err != nil {
		return nil, errors.NewOSError("failed to read memory usage", err).WithContext("box_id", rm.boxID)
	}
	pids, err := rm.source.GetPidsCurrent()
	if err != nil {
		return nil, errors.NewOSError("failed to read pids usage", err).WithContext("box_id", rm.boxID)
	}
	cpu, err := rm.source.GetCPUStat()
	if err != nil {
		return nil, errors.NewOSError("failed to read cpu usage", err).WithContext("box_id", rm.boxID)
	}

	usage := &ResourceUsage{
		Timestamp:     rm.now(),
		MemoryCurrent: memory,
		PidsCurrent:   pids,
		CPUUsageUsec:  cpu.UsageUsec,
	}

	rm.mutex.Lock()
	if last := rm.lastSample; last != nil {
		usage.CPUPercent = cpuPercent(last, usage)
	}
	rm.lastSample = usage
	rm.mutex.Unlock()

	return usage, nil
}

func cpuPercent(previous, current *ResourceUsage) float64 {
	elapsed := current.Timestamp.Sub(previous.Timestamp)
	if elapsed <= 0 || current.CPUUsageUsec < previous.CPUUsageUsec {
		return 0
	}
	used := time.Duration(current.CPUUsageUsec-previous.CPUUsageUsec) * time.Microsecond
	return float64(used) / float64(elapsed) * 100
}

// SetUsageCallback sets callback for resource usage updates
func (rm *resourceMonitor) SetUsageCallback(callback ResourceUsageCallback) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.usageCallback = callback
}

func (rm *resourceMonitor) monitorLoop(ctx context.Context) {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rm.logger.Debugf("Resource monitoring loop stopped, box_id: %d", rm.boxID)
			return

		case <-ticker.C:
			rm.collectUsage()
		}
	}
}

func (rm *resourceMonitor) collectUsage() {
	usage, err := rm.GetCurrentUsage()
	if err != nil {
		rm.logger.Warnf("Failed to collect resource usage, box_id: %d, error: %v", rm.boxID, err)
		return
	}

	rm.logger.Debugf("Resource usage, box_id: %d, memory: %s, pids: %d, cpu: %.1f%%",
		rm.boxID, units.BytesSize(float64(usage.MemoryCurrent)), usage.PidsCurrent, usage.CPUPercent)

	rm.mutex.Lock()
	rm.addToHistory(usage)
	callback := rm.usageCallback
	rm.mutex.Unlock()

	if callback != nil {
		callback(usage)
	}
}

// addToHistory adds usage to history and drops samples past retention
func (rm *resourceMonitor) addToHistory(usage *ResourceUsage) {
	rm.usageHistory = append(rm.usageHistory, usage)

	cutoff := usage.Timestamp.Add(-rm.config.HistoryRetention)
	drop := 0
	for drop < len(rm.usageHistory) && rm.usageHistory[drop].Timestamp.Before(cutoff) {
		drop++
	}
	rm.usageHistory = rm.usageHistory[drop:]
}

// GetUsageHistory returns historical usage data
func (rm *resourceMonitor) GetUsageHistory(since time.Time) []*ResourceUsage {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	var result []*ResourceUsage
	for _, usage := range rm.usageHistory {
		if usage.Timestamp.After(since) {
			result = append(result, usage)
		}
	}

	return result
}
