package store

import (
	"context"
	"time"
)

// Metric is one append-only measurement row. The channel "system" is
// used for process-wide gauges.
type Metric struct {
	ID         int64
	Channel    string
	MetricType string
	Value      float64
	CreatedTs  int64
}

// MetricAggregate is the per-type summary used by the status command.
type MetricAggregate struct {
	MetricType string
	Avg        float64
	Count      int64
	Sum        float64
}

// RecordMetrics appends a batch of measurements. Called by the metrics
// recorder on its flush interval; unavailability drops the batch.
func (s *Store) RecordMetrics(ctx context.Context, batch []*Metric) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().Unix()
	for _, m := range batch {
		if m.CreatedTs == 0 {
			m.CreatedTs = now
		}
	}
	return s.driver.InsertMetrics(ctx, batch)
}

// GetPerformanceStats aggregates metrics per type over the trailing
// window. Unavailability degrades to an empty result.
func (s *Store) GetPerformanceStats(ctx context.Context, channel string, window time.Duration) []*MetricAggregate {
	since := time.Now().Add(-window).Unix()
	aggs, err := s.driver.AggregateMetrics(ctx, channel, since)
	if err != nil {
		s.logger.Warn("metric aggregation failed", "channel", channel, "error", err)
		return nil
	}
	return aggs
}

// CleanupOldMetrics deletes metric rows older than retentionDays.
func (s *Store) CleanupOldMetrics(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	return s.driver.DeleteMetricsBefore(ctx, cutoff)
}
