package mysql

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/clankbot/clank/store"
)

// InsertMetrics appends a batch of measurements in one statement.
func (d *DB) InsertMetrics(ctx context.Context, batch []*store.Metric) error {
	if len(batch) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*4)
	for _, m := range batch {
		placeholders = append(placeholders, "(?, ?, ?, ?)")
		args = append(args, m.Channel, m.MetricType, m.Value, m.CreatedTs)
	}

	stmt := "INSERT INTO bot_metrics (channel, metric_type, metric_value, created_ts) VALUES " +
		strings.Join(placeholders, ", ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to insert metrics")
	}
	return nil
}

func (d *DB) AggregateMetrics(ctx context.Context, channel string, sinceTs int64) ([]*store.MetricAggregate, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT metric_type, AVG(metric_value), COUNT(*), SUM(metric_value)
		FROM bot_metrics
		WHERE channel = ? AND created_ts >= ?
		GROUP BY metric_type`, channel, sinceTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate metrics")
	}
	defer rows.Close()

	var aggs []*store.MetricAggregate
	for rows.Next() {
		agg := &store.MetricAggregate{}
		if err := rows.Scan(&agg.MetricType, &agg.Avg, &agg.Count, &agg.Sum); err != nil {
			return nil, errors.Wrap(err, "failed to scan metric aggregate")
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate metric aggregates")
	}
	return aggs, nil
}

func (d *DB) DeleteMetricsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM bot_metrics WHERE created_ts < ?", cutoffTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old metrics")
	}
	return result.RowsAffected()
}
