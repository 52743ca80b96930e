// Package metrics buffers operational measurements and batch-flushes
// them into the store, and exports a Prometheus view of the live
// process.
package metrics

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clankbot/clank/store"
)

// SystemChannel is the pseudo-channel for process-wide gauges.
const SystemChannel = "system"

// Stored metric names.
const (
	MetricResponseTime         = "response_time"
	MetricMessagesProcessed    = "messages_processed"
	MetricFilterBlockInput     = "filter_block_input"
	MetricFilterBlockOutput    = "filter_block_output"
	MetricRateLimitSpontaneous = "rate_limit_spontaneous"
	MetricRateLimitResponse    = "rate_limit_response"
	MetricMemoryUsageMB        = "memory_usage_mb"
	MetricDiskUsagePercent     = "disk_usage_percent"
	MetricCPUUsagePercent      = "cpu_usage_percent"
)

// SuccessMetric names the success counter for an operation
// ("spontaneous", "response").
func SuccessMetric(op string) string { return op + "_success" }

// ErrorMetric names the per-kind failure counter for an operation.
func ErrorMetric(op, kind string) string { return op + "_error_" + kind }

const flushInterval = 60 * time.Second

// Recorder accumulates measurements in memory and writes them to
// bot_metrics once a minute. A crash loses at most one interval.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger

	mu     sync.Mutex
	buffer []*store.Metric
}

func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: st, logger: logger}
}

// Record buffers one measurement.
func (r *Recorder) Record(channel, metricType string, value float64) {
	m := &store.Metric{
		Channel:    channel,
		MetricType: metricType,
		Value:      value,
		CreatedTs:  time.Now().Unix(),
	}
	r.mu.Lock()
	r.buffer = append(r.buffer, m)
	r.mu.Unlock()
}

// Flush writes the current buffer to the store. On failure the batch
// is dropped; metrics are advisory.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := r.store.RecordMetrics(ctx, batch); err != nil {
		r.logger.Warn("metric flush failed, dropping batch", "size", len(batch), "err", err)
		return
	}
	r.logger.Debug("flushed metrics", "size", len(batch))
}

// Run flushes on a fixed interval until ctx is cancelled, then
// performs a final flush so shutdown does not lose the tail.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// PerformanceSummary condenses the stored aggregates for the status
// command.
type PerformanceSummary struct {
	AvgResponseTimeMs float64
	SuccessCount      int64
	ErrorCount        int64
}

// SuccessRate returns success ÷ (success + errors), or false when no
// generation has been recorded in the window.
func (p PerformanceSummary) SuccessRate() (float64, bool) {
	total := p.SuccessCount + p.ErrorCount
	if total == 0 {
		return 0, false
	}
	return float64(p.SuccessCount) / float64(total), true
}

// Summarize aggregates a channel's stored metrics over the trailing
// window.
func (r *Recorder) Summarize(ctx context.Context, channel string, window time.Duration) PerformanceSummary {
	var out PerformanceSummary
	for _, agg := range r.store.GetPerformanceStats(ctx, channel, window) {
		switch {
		case agg.MetricType == MetricResponseTime:
			out.AvgResponseTimeMs = agg.Avg
		case strings.HasSuffix(agg.MetricType, "_success"):
			out.SuccessCount += agg.Count
		case strings.Contains(agg.MetricType, "_error_"):
			out.ErrorCount += agg.Count
		}
	}
	return out
}
