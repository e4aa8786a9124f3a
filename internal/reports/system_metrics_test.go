package reports_test

import (
	"testing"
	"time"

	"github.com/k9dev/scout-agent/internal/reports"
)

func TestSystemMetricsRateLimited(t *testing.T) {
	t.Parallel()

	var m reports.SystemMetrics
	base := time.Unix(1_700_000_000, 0)

	if err := m.Update(base); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	firstCount := m.SampleCount
	if firstCount != 1 {
		t.Fatalf("SampleCount after first Update = %d, want 1", firstCount)
	}

	// Within the interval: no new sample.
	if err := m.Update(base.Add(1 * time.Second)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if m.SampleCount != firstCount {
		t.Errorf("SampleCount after early Update = %d, want %d (rate-limited)", m.SampleCount, firstCount)
	}

	// Past the interval: new sample taken.
	if err := m.Update(base.Add(reports.SystemMetricsInterval + time.Second)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if m.SampleCount != firstCount+1 {
		t.Errorf("SampleCount after late Update = %d, want %d", m.SampleCount, firstCount+1)
	}
}

func TestSystemMetricsResetZeroesMeans(t *testing.T) {
	t.Parallel()

	m := reports.SystemMetrics{CPUPercentMean: 55, MemPercentMean: 30, SampleCount: 4}
	m.Reset()

	if m.CPUPercentMean != 0 || m.MemPercentMean != 0 || m.SampleCount != 0 {
		t.Error("Reset() did not zero all running-mean fields")
	}
}
