package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/models"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClientFromDB(db, "testhost"), mock
}

func TestWriteMetrics_Batch(t *testing.T) {
	c, mock := newMockClient(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO system_metrics")
	prep.ExpectExec().
		WithArgs(now, "testhost", "cpu_percent", 91.5, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(now, "otherhost", "memory_percent", 60.0, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.WriteMetrics(context.Background(), []models.MetricSample{
		{Time: now, MetricName: "cpu_percent", Value: 91.5, Unit: "percent"},
		{Time: now, Host: "otherhost", MetricName: "memory_percent", Value: 60.0},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMetrics_EmptyIsNoop(t *testing.T) {
	c, mock := newMockClient(t)
	require.NoError(t, c.WriteMetrics(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteTriggerEvents(t *testing.T) {
	c, mock := newMockClient(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO trigger_events")
	prep.ExpectExec().
		WithArgs(now, "testhost", "metric_threshold", "medium", "trigger", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.WriteTriggerEvents(context.Background(), []models.TriggerEventRecord{{
		Time:     now,
		Kind:     models.EventMetricThreshold,
		Severity: models.SeverityMedium,
		Source:   models.SourceTrigger,
		Payload:  map[string]any{"value": 91.0},
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricTrends(t *testing.T) {
	c, mock := newMockClient(t)
	bucket := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT time_bucket").
		WithArgs("300 seconds", "testhost", "cpu_percent", "3600 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "avg", "max", "min"}).
			AddRow(bucket, 85.0, 95.0, 70.0).
			AddRow(bucket.Add(5*time.Minute), 90.0, 93.0, 88.0))

	trends, err := c.MetricTrends(context.Background(), "cpu_percent", time.Hour, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, 85.0, trends[0].Avg)
	assert.Equal(t, 93.0, trends[1].Max)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestMetrics(t *testing.T) {
	c, mock := newMockClient(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT DISTINCT ON").
		WithArgs("testhost").
		WillReturnRows(sqlmock.NewRows([]string{"time", "metric_name", "value", "unit"}).
			AddRow(now, "cpu_percent", 42.0, "percent").
			AddRow(now, "disk_percent", 71.0, "percent"))

	latest, err := c.LatestMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "cpu_percent", latest[0].MetricName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricStats(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("testhost", "cpu_percent", "3600 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"avg", "max", "min", "stddev", "count"}).
			AddRow(80.0, 95.0, 60.0, 8.2, int64(120)))

	stats, err := c.MetricStats(context.Background(), "cpu_percent", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 80.0, stats.Avg)
	assert.Equal(t, int64(120), stats.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropChunksOlderThan(t *testing.T) {
	c, mock := newMockClient(t)

	for range []int{0, 1, 2, 3} {
		mock.ExpectExec("SELECT drop_chunks").
			WithArgs("2592000 seconds").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err := c.DropChunksOlderThan(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
