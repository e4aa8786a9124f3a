package reports

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// SystemMetricsInterval is the minimum spacing between /proc samples.
// No pack example reads host/process telemetry, so this concern is
// implemented directly on the standard library rather than an ecosystem
// library (see DESIGN.md).
const SystemMetricsInterval = 5 * time.Second

// cpuSample is a snapshot of the cumulative /proc/stat "cpu" line counters.
type cpuSample struct {
	idle  uint64
	total uint64
}

// SystemMetrics tracks running-mean CPU and memory utilization, resampled
// no more often than SystemMetricsInterval.
type SystemMetrics struct {
	CPUPercentMean float64
	MemPercentMean float64
	SampleCount    uint64
	LastRefresh    time.Time

	lastCPU cpuSample
}

// Update resamples /proc/stat and /proc/meminfo and folds the result into
// the running means, provided SystemMetricsInterval has elapsed since the
// last sample. now is passed explicitly so callers control the clock.
func (m *SystemMetrics) Update(now time.Time) error {
	if !m.LastRefresh.IsZero() && now.Sub(m.LastRefresh) < SystemMetricsInterval {
		return nil
	}

	cpuPct, sample, err := sampleCPUPercent(m.lastCPU)
	if err != nil {
		return err
	}
	memPct, err := sampleMemPercent()
	if err != nil {
		return err
	}

	m.lastCPU = sample
	m.SampleCount++
	n := float64(m.SampleCount)
	m.CPUPercentMean += (cpuPct - m.CPUPercentMean) / n
	m.MemPercentMean += (memPct - m.MemPercentMean) / n
	m.LastRefresh = now

	return nil
}

// Reset zeroes the running means and sample counter, as done after each
// successful heartbeat send.
func (m *SystemMetrics) Reset() {
	m.CPUPercentMean = 0
	m.MemPercentMean = 0
	m.SampleCount = 0
}

// ToJSON projects SystemMetrics into the heartbeat wire schema.
func (m SystemMetrics) ToJSON() map[string]any {
	return map[string]any{
		"cpu_pct":      m.CPUPercentMean,
		"mem_pct":      m.MemPercentMean,
		"sample_count": m.SampleCount,
		"last_refresh": m.LastRefresh.UTC().Format(time.RFC3339),
	}
}

func sampleCPUPercent(prev cpuSample) (float64, cpuSample, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, cpuSample{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var cur cpuSample
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		var total uint64
		for i, raw := range fields {
			v, perr := strconv.ParseUint(raw, 10, 64)
			if perr != nil {
				continue
			}
			total += v
			if i == 3 { // idle
				cur.idle = v
			}
		}
		cur.total = total
		break
	}
	if err := scanner.Err(); err != nil {
		return 0, cpuSample{}, err
	}

	if prev.total == 0 || cur.total <= prev.total {
		return 0, cur, nil
	}

	totalDelta := cur.total - prev.total
	idleDelta := cur.idle - prev.idle
	if idleDelta > totalDelta {
		return 0, cur, nil
	}

	busy := float64(totalDelta-idleDelta) / float64(totalDelta)
	return busy * 100, cur, nil
}

func sampleMemPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	used := total - available
	return (used / total) * 100, nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return v
}
