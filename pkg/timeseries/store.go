package timeseries

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

// WriteMetrics appends metric samples in one transaction.
func (c *Client) WriteMetrics(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	return c.batch(ctx, `
INSERT INTO system_metrics (time, host, metric_name, value, unit, metadata)
VALUES ($1, $2, $3, $4, $5, $6)`,
		len(samples), func(i int) []any {
			s := samples[i]
			return []any{s.Time, c.orHost(s.Host), s.MetricName, s.Value,
				nullString(s.Unit), jsonOrNil(s.Metadata)}
		})
}

// WriteServiceStatus appends service status samples.
func (c *Client) WriteServiceStatus(ctx context.Context, samples []models.ServiceStatusSample) error {
	if len(samples) == 0 {
		return nil
	}
	return c.batch(ctx, `
INSERT INTO service_status (time, host, service, status, active_state)
VALUES ($1, $2, $3, $4, $5)`,
		len(samples), func(i int) []any {
			s := samples[i]
			return []any{s.Time, c.orHost(s.Host), s.Service, s.Status,
				nullString(s.ActiveState)}
		})
}

// WriteLogEvents appends log events.
func (c *Client) WriteLogEvents(ctx context.Context, samples []models.LogEventSample) error {
	if len(samples) == 0 {
		return nil
	}
	return c.batch(ctx, `
INSERT INTO log_events (time, host, severity, message, unit, metadata)
VALUES ($1, $2, $3, $4, $5, $6)`,
		len(samples), func(i int) []any {
			s := samples[i]
			return []any{s.Time, c.orHost(s.Host), string(s.Severity), s.Message,
				nullString(s.Unit), jsonOrNil(s.Metadata)}
		})
}

// WriteTriggerEvents appends flattened trigger events.
func (c *Client) WriteTriggerEvents(ctx context.Context, records []models.TriggerEventRecord) error {
	if len(records) == 0 {
		return nil
	}
	return c.batch(ctx, `
INSERT INTO trigger_events (time, host, kind, severity, source, payload)
VALUES ($1, $2, $3, $4, $5, $6)`,
		len(records), func(i int) []any {
			r := records[i]
			return []any{r.Time, c.orHost(r.Host), string(r.Kind), string(r.Severity),
				string(r.Source), jsonOrNil(r.Payload)}
		})
}

// batch runs the same insert for n rows inside one transaction.
func (c *Client) batch(ctx context.Context, query string, n int, args func(int) []any) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// MetricTrends returns bucketed avg/max/min for one metric over the
// trailing window.
func (c *Client) MetricTrends(ctx context.Context, metricName string, window time.Duration, bucket time.Duration) ([]models.MetricBucket, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT time_bucket($1::interval, time) AS bucket,
       avg(value), max(value), min(value)
FROM system_metrics
WHERE host = $2 AND metric_name = $3 AND time > now() - $4::interval
GROUP BY bucket
ORDER BY bucket`,
		pgInterval(bucket), c.host, metricName, pgInterval(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query metric trends: %w", err)
	}
	defer rows.Close()

	var out []models.MetricBucket
	for rows.Next() {
		var b models.MetricBucket
		if err := rows.Scan(&b.Bucket, &b.Avg, &b.Max, &b.Min); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestMetrics returns the most recent sample for every metric name.
func (c *Client) LatestMetrics(ctx context.Context) ([]models.LatestMetric, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT DISTINCT ON (metric_name) time, metric_name, value, COALESCE(unit, '')
FROM system_metrics
WHERE host = $1
ORDER BY metric_name, time DESC`, c.host)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest metrics: %w", err)
	}
	defer rows.Close()

	var out []models.LatestMetric
	for rows.Next() {
		var m models.LatestMetric
		if err := rows.Scan(&m.Time, &m.MetricName, &m.Value, &m.Unit); err != nil {
			return nil, fmt.Errorf("failed to scan latest metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetricStats summarises one metric over the trailing window.
func (c *Client) MetricStats(ctx context.Context, metricName string, window time.Duration) (*models.MetricStats, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT COALESCE(avg(value), 0), COALESCE(max(value), 0),
       COALESCE(min(value), 0), COALESCE(stddev(value), 0), count(*)
FROM system_metrics
WHERE host = $1 AND metric_name = $2 AND time > now() - $3::interval`,
		c.host, metricName, pgInterval(window))

	stats := &models.MetricStats{MetricName: metricName}
	if err := row.Scan(&stats.Avg, &stats.Max, &stats.Min, &stats.StdDev, &stats.Count); err != nil {
		return nil, fmt.Errorf("failed to query metric stats: %w", err)
	}
	return stats, nil
}

// RecentTriggerEvents returns the newest trigger events, newest first.
func (c *Client) RecentTriggerEvents(ctx context.Context, limit int) ([]models.TriggerEventRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT time, kind, severity, source, COALESCE(payload::text, '')
FROM trigger_events
WHERE host = $1
ORDER BY time DESC
LIMIT $2`, c.host, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger events: %w", err)
	}
	defer rows.Close()

	var out []models.TriggerEventRecord
	for rows.Next() {
		var (
			r       models.TriggerEventRecord
			payload string
		)
		if err := rows.Scan(&r.Time, &r.Kind, &r.Severity, &r.Source, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan trigger event: %w", err)
		}
		r.Host = c.host
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &r.Payload)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DropChunksOlderThan applies retention by dropping whole hypertable
// chunks past the cut-off.
func (c *Client) DropChunksOlderThan(ctx context.Context, age time.Duration) error {
	for _, table := range []string{"system_metrics", "service_status", "log_events", "trigger_events"} {
		_, err := c.db.ExecContext(ctx,
			fmt.Sprintf(`SELECT drop_chunks('%s', older_than => now() - $1::interval)`, table),
			pgInterval(age))
		if err != nil {
			return fmt.Errorf("failed to drop chunks for %s: %w", table, err)
		}
	}
	return nil
}

// pgInterval renders a duration in a form Postgres casts to interval.
func pgInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

func (c *Client) orHost(host string) string {
	if host != "" {
		return host
	}
	return c.host
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(data)
}
