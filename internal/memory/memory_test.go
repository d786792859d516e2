package memory

import (
	"runtime/debug"
	"sync/atomic"
	"testing"
	"time"
)

func TestConfigureFromContainerLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })

	got := Configure(1<<30, 0.5)
	if got.Source != "MEMORY_LIMIT" {
		t.Fatalf("Expected source MEMORY_LIMIT, got %q", got.Source)
	}
	if got.GoMemLimit != 1<<29 {
		t.Errorf("Expected limit %d, got %d", int64(1<<29), got.GoMemLimit)
	}
	if limit := debug.SetMemoryLimit(-1); limit != 1<<29 {
		t.Errorf("runtime limit = %d, want %d", limit, int64(1<<29))
	}
}

func TestConfigureInvalidRatioUsesDefault(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })

	for _, ratio := range []float64{0, -0.5, 1.5} {
		got := Configure(1000, ratio)
		if got.Ratio != DefaultRatio {
			t.Errorf("ratio %.2f: expected default, got %.2f", ratio, got.Ratio)
		}
		if got.GoMemLimit != 850 {
			t.Errorf("ratio %.2f: expected 850, got %d", ratio, got.GoMemLimit)
		}
	}
}

func TestConfigureWithoutLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")

	got := Configure(0, DefaultRatio)
	if got.Source != "none" || got.Configured() {
		t.Errorf("Expected unconfigured result, got %+v", got)
	}
}

func TestConfigureRespectsGOMEMLIMIT(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "512MiB")
	prev := debug.SetMemoryLimit(512 << 20)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })

	got := Configure(1<<30, 0.5)
	if got.Source != "GOMEMLIMIT" {
		t.Fatalf("Expected source GOMEMLIMIT, got %q", got.Source)
	}
	if got.GoMemLimit != 512<<20 {
		t.Errorf("Expected existing limit to be kept, got %d", got.GoMemLimit)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMonitorThrottlesAboveHighWaterMark(t *testing.T) {
	var alloc atomic.Uint64
	m := NewMonitor(1000, 0.7, time.Hour)
	m.readAlloc = alloc.Load

	alloc.Store(500)
	m.sample()
	if m.ShouldThrottle() {
		t.Error("Expected no throttling at 50%")
	}

	alloc.Store(800)
	m.sample()
	if !m.ShouldThrottle() {
		t.Error("Expected throttling at 80%")
	}
	if u := m.Usage(); u != 0.8 {
		t.Errorf("Usage = %.2f, want 0.80", u)
	}

	alloc.Store(100)
	m.sample()
	if m.ShouldThrottle() {
		t.Error("Expected throttling to clear after recovery")
	}
}

func TestMonitorWithoutLimit(t *testing.T) {
	m := NewMonitor(0, 0.7, time.Millisecond)
	m.Start()
	defer m.Stop()

	if m.ShouldThrottle() || m.Usage() != 0 {
		t.Error("Expected a monitor without a limit to stay idle")
	}

	var nilMonitor *Monitor
	if nilMonitor.ShouldThrottle() {
		t.Error("nil monitor should never throttle")
	}
}

func TestMonitorStartStop(t *testing.T) {
	var samples atomic.Int32
	m := NewMonitor(1<<30, 0.7, 5*time.Millisecond)
	m.readAlloc = func() uint64 {
		samples.Add(1)
		return 1
	}

	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop()

	if samples.Load() < 2 {
		t.Errorf("Expected periodic samples, got %d", samples.Load())
	}
}
