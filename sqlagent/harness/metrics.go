package harness

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const maxLatencySamples = 1024

// MetricsCollector aggregates run, model-call and tool statistics across concurrent runs.
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	runCount       int64
	stopReasons    map[StopReason]int64
	iterationCount int64
	modelCalls     int64
	modelErrors    int64

	// Latency tracking (bounded windows)
	runLatency   []time.Duration
	modelLatency []time.Duration

	toolStats map[string]ToolStats
}

// ToolStats tracks metrics for a single tool.
type ToolStats struct {
	Calls        int64         `json:"calls"`
	Errors       int64         `json:"errors"`
	TotalLatency time.Duration `json:"total_latency"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		stopReasons:  make(map[StopReason]int64),
		runLatency:   make([]time.Duration, 0, maxLatencySamples),
		modelLatency: make([]time.Duration, 0, maxLatencySamples),
		toolStats:    make(map[string]ToolStats),
	}
}

// RecordRun records a finished run.
func (mc *MetricsCollector) RecordRun(reason StopReason, duration time.Duration, iterations int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.runCount++
	mc.stopReasons[reason]++
	mc.iterationCount += int64(iterations)
	mc.runLatency = appendSample(mc.runLatency, duration)
}

// RecordModelCall records one reasoning call.
func (mc *MetricsCollector) RecordModelCall(duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.modelCalls++
	mc.modelLatency = appendSample(mc.modelLatency, duration)
	if err != nil {
		mc.modelErrors++
	}
}

// RecordTool records one tool invocation.
func (mc *MetricsCollector) RecordTool(name string, duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats := mc.toolStats[name]
	stats.Calls++
	stats.TotalLatency += duration
	if err != nil {
		stats.Errors++
	}
	mc.toolStats[name] = stats
}

// GetSummary returns a snapshot of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	reasons := make(map[StopReason]int64, len(mc.stopReasons))
	for k, v := range mc.stopReasons {
		reasons[k] = v
	}
	tools := make(map[string]ToolStats, len(mc.toolStats))
	for k, v := range mc.toolStats {
		tools[k] = v
	}

	var avgIterations float64
	if mc.runCount > 0 {
		avgIterations = float64(mc.iterationCount) / float64(mc.runCount)
	}

	return MetricsSummary{
		RunCount:      mc.runCount,
		StopReasons:   reasons,
		AvgIterations: avgIterations,
		ModelCalls:    mc.modelCalls,
		ModelErrors:   mc.modelErrors,
		ToolStats:     tools,
		RunLatency:    calculatePercentiles(mc.runLatency),
		ModelLatency:  calculatePercentiles(mc.modelLatency),
	}
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.runCount = 0
	mc.iterationCount = 0
	mc.modelCalls = 0
	mc.modelErrors = 0
	mc.stopReasons = make(map[StopReason]int64)
	mc.runLatency = mc.runLatency[:0]
	mc.modelLatency = mc.modelLatency[:0]
	mc.toolStats = make(map[string]ToolStats)
}

// MetricsSummary represents a summary of collected metrics.
type MetricsSummary struct {
	RunCount      int64                `json:"run_count"`
	StopReasons   map[StopReason]int64 `json:"stop_reasons"`
	AvgIterations float64              `json:"avg_iterations"`
	ModelCalls    int64                `json:"model_calls"`
	ModelErrors   int64                `json:"model_errors"`
	ToolStats     map[string]ToolStats `json:"tool_stats"`
	RunLatency    LatencyPercentiles   `json:"run_latency"`
	ModelLatency  LatencyPercentiles   `json:"model_latency"`
}

// LatencyPercentiles represents latency percentiles.
type LatencyPercentiles struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	if len(samples) >= maxLatencySamples {
		copy(samples, samples[1:])
		samples = samples[:len(samples)-1]
	}
	return append(samples, d)
}

// calculatePercentiles computes empirical quantiles over the sample window.
func calculatePercentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	xs := make([]float64, len(latencies))
	for i, l := range latencies {
		xs[i] = float64(l)
	}
	sort.Float64s(xs)

	return LatencyPercentiles{
		Mean: time.Duration(stat.Mean(xs, nil)),
		P50:  time.Duration(stat.Quantile(0.50, stat.Empirical, xs, nil)),
		P95:  time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
		P99:  time.Duration(stat.Quantile(0.99, stat.Empirical, xs, nil)),
	}
}
