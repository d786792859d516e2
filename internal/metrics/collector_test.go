package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStatsProvider struct {
	stats Stats
}

func (m *mockStatsProvider) GetStats() Stats {
	return m.stats
}

type mockDBUpdater struct {
	mu    sync.Mutex
	calls int
}

func (m *mockDBUpdater) UpdateDBMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
}

func (m *mockDBUpdater) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestNewCollector(t *testing.T) {
	provider := &mockStatsProvider{}
	updater := &mockDBUpdater{}

	collector := NewCollector(provider, updater, 5*time.Second)

	if collector.statsProvider != provider {
		t.Error("statsProvider not set correctly")
	}
	if collector.dbUpdater != updater {
		t.Error("dbUpdater not set correctly")
	}
	if collector.interval != 5*time.Second {
		t.Errorf("interval = %v, want %v", collector.interval, 5*time.Second)
	}
	if collector.stopChan == nil {
		t.Error("stopChan not initialized")
	}
}

func TestCollectWithNilProvider(t *testing.T) {
	collector := NewCollector(nil, nil, time.Second)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("collect() panicked with nil provider: %v", r)
		}
	}()

	collector.collect()
}

func TestCollectUpdatesGauges(t *testing.T) {
	provider := &mockStatsProvider{
		stats: Stats{
			OriginalAssets:     7,
			ConvertedAssets:    3,
			IncompatibleAssets: 4,
			UsedMB:             512,
			AllottedMB:         2000,
			JobsInProgress:     2,
		},
	}
	updater := &mockDBUpdater{}

	NewCollector(provider, updater, time.Second).collect()

	checks := map[string]float64{
		"original":     testutil.ToFloat64(AssetsTotal.WithLabelValues("original")),
		"converted":    testutil.ToFloat64(AssetsTotal.WithLabelValues("converted")),
		"incompatible": testutil.ToFloat64(AssetsTotal.WithLabelValues("incompatible")),
		"used":         testutil.ToFloat64(StorageMB.WithLabelValues("used")),
		"allotted":     testutil.ToFloat64(StorageMB.WithLabelValues("allotted")),
		"in_progress":  testutil.ToFloat64(ConversionJobsInProgress),
	}
	want := map[string]float64{
		"original": 7, "converted": 3, "incompatible": 4,
		"used": 512, "allotted": 2000, "in_progress": 2,
	}
	for k, v := range want {
		if checks[k] != v {
			t.Errorf("%s = %v, want %v", k, checks[k], v)
		}
	}

	if updater.count() != 1 {
		t.Errorf("UpdateDBMetrics called %d times, want 1", updater.count())
	}
}

func TestCollectorStartStop(t *testing.T) {
	updater := &mockDBUpdater{}
	collector := NewCollector(&mockStatsProvider{}, updater, 10*time.Millisecond)

	collector.Start()
	time.Sleep(50 * time.Millisecond)
	collector.Stop()

	if updater.count() < 2 {
		t.Errorf("expected several collection cycles, got %d", updater.count())
	}
}

func TestCollectorStopBeforeStart(t *testing.T) {
	collector := NewCollector(&mockStatsProvider{}, nil, time.Second)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Stop() before Start() panicked: %v", r)
		}
	}()

	collector.Stop()
}

func TestStatsProviderInterface(_ *testing.T) {
	var _ StatsProvider = (*mockStatsProvider)(nil)
	var _ DBMetricsUpdater = (*mockDBUpdater)(nil)
}
