package memory

import (
	"runtime"
	"sync"
	"time"

	"media-converter/internal/logging"
	"media-converter/internal/metrics"
)

// Monitor samples heap usage against a limit and tells callers when to
// avoid buffering in memory.
type Monitor struct {
	limit         int64
	highWaterMark float64
	interval      time.Duration
	readAlloc     func() uint64

	mu        sync.RWMutex
	current   uint64
	throttled bool

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewMonitor creates a monitor for limit bytes. A zero limit disables
// throttling.
func NewMonitor(limit int64, highWaterMark float64, interval time.Duration) *Monitor {
	if limit == 0 {
		logging.Debug("Memory monitor: no limit configured, uploads always buffer in memory")
	}
	return &Monitor{
		limit:         limit,
		highWaterMark: highWaterMark,
		interval:      interval,
		readAlloc:     heapAlloc,
		stopChan:      make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start begins periodic sampling.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	m.sample()
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop ends sampling. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) sample() {
	alloc := m.readAlloc()
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = alloc
	throttled := usage >= m.highWaterMark
	if throttled != m.throttled {
		if throttled {
			logging.Warn("Memory high (%.1f%% of limit), spooling uploads to disk", usage*100)
		} else {
			logging.Info("Memory recovered (%.1f%% of limit)", usage*100)
		}
		m.throttled = throttled
	}
}

// ShouldThrottle reports whether heap usage is above the high water mark.
// A nil monitor never throttles.
func (m *Monitor) ShouldThrottle() bool {
	if m == nil || m.limit == 0 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.throttled
}

// Usage returns the last sampled heap allocation as a fraction of the limit.
func (m *Monitor) Usage() float64 {
	if m == nil || m.limit == 0 {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) / float64(m.limit)
}
