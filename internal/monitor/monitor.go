// Package monitor samples host resource usage for coordinator and BB node
// roles, independent of the occupancy accounting the protocol itself does
// over the fabric. This is operational visibility, not placement input.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats holds one sample of host resource usage.
type SystemStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// SystemMonitor collects SystemStats on a fixed interval until Stop.
type SystemMonitor struct {
	logger   *slog.Logger
	interval time.Duration
	mountPoint string

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats SystemStats
}

// NewSystemMonitor creates a monitor sampling every interval, reporting disk
// usage for mountPoint (e.g. a BB node's drain root, or "/" for the
// coordinator, which has no drain path of its own).
func NewSystemMonitor(logger *slog.Logger, interval time.Duration, mountPoint string) *SystemMonitor {
	return &SystemMonitor{
		logger:     logger.With("component", "system_monitor"),
		interval:   interval,
		mountPoint: mountPoint,
		close:      make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (sm *SystemMonitor) Start() {
	sm.wg.Add(1)
	go sm.run()
}

// Stop halts collection and waits for the background goroutine to exit.
func (sm *SystemMonitor) Stop() {
	close(sm.close)
	sm.wg.Wait()
}

// Stats returns the most recently collected sample.
func (sm *SystemMonitor) Stats() SystemStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stats
}

func (sm *SystemMonitor) run() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	sm.collect()
	for {
		select {
		case <-sm.close:
			return
		case <-ticker.C:
			sm.collect()
		}
	}
}

func (sm *SystemMonitor) collect() {
	stats := SystemStats{}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		sm.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		sm.logger.Debug("failed to collect memory stats", "error", err)
	}

	mountPoint := sm.mountPoint
	if mountPoint == "" {
		mountPoint = "/"
	}
	if d, err := disk.Usage(mountPoint); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		sm.logger.Debug("failed to collect disk stats", "error", err, "mount", mountPoint)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
	} else {
		sm.logger.Debug("failed to collect load stats", "error", err)
	}

	sm.mu.Lock()
	sm.stats = stats
	sm.mu.Unlock()
}
