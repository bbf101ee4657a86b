package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(100)

	if got := tracker.Percentile(95); got != 0 {
		t.Errorf("empty tracker percentile = %v, want 0", got)
	}

	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Count(); got != 100 {
		t.Errorf("count = %d, want 100", got)
	}
	if got := tracker.Percentile(0); got != time.Millisecond {
		t.Errorf("p0 = %v, want 1ms", got)
	}
	if got := tracker.Percentile(100); got != 100*time.Millisecond {
		t.Errorf("p100 = %v, want 100ms", got)
	}
	p95 := tracker.Percentile(95)
	if p95 < 90*time.Millisecond || p95 > 100*time.Millisecond {
		t.Errorf("p95 = %v, out of expected range", p95)
	}
}

func TestLatencyTrackerEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)

	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}

	if got := tracker.Count(); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
	// Oldest samples dropped, so the minimum is the third observation.
	if got := tracker.Percentile(0); got != 3*time.Second {
		t.Errorf("min after eviction = %v, want 3s", got)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "unknown"} {
		if logger := NewLogger(level, false); logger == nil {
			t.Errorf("NewLogger(%q) returned nil", level)
		}
	}
	if logger := NewLogger("info", true); logger == nil {
		t.Error("json logger is nil")
	}
}
