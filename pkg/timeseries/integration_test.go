package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wardenhq/warden/pkg/models"
)

// TestIntegration_RoundTrip spins up a TimescaleDB container, applies
// the embedded migrations and exercises the full write/query surface.
func TestIntegration_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"timescale/timescaledb:latest-pg16",
		tcpostgres.WithDatabase("metrics"),
		tcpostgres.WithUsername("warden"),
		tcpostgres.WithPassword("warden"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("could not start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := NewClient(ctx, dsn, "testhost")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	now := time.Now().UTC()
	require.NoError(t, client.WriteMetrics(ctx, []models.MetricSample{
		{Time: now.Add(-10 * time.Minute), MetricName: "cpu_percent", Value: 80},
		{Time: now.Add(-5 * time.Minute), MetricName: "cpu_percent", Value: 90},
		{Time: now, MetricName: "cpu_percent", Value: 95, Unit: "percent"},
		{Time: now, MetricName: "disk_percent", Value: 71},
	}))

	require.NoError(t, client.WriteTriggerEvents(ctx, []models.TriggerEventRecord{{
		Time: now, Kind: models.EventMetricThreshold,
		Severity: models.SeverityMedium, Source: models.SourceTrigger,
		Payload: map[string]any{"value": 95.0},
	}}))

	latest, err := client.LatestMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	stats, err := client.MetricStats(ctx, "cpu_percent", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, 95.0, stats.Max)

	trends, err := client.MetricTrends(ctx, "cpu_percent", time.Hour, 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, trends)

	events, err := client.RecentTriggerEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMetricThreshold, events[0].Kind)

	require.NoError(t, client.DropChunksOlderThan(ctx, 24*time.Hour))
}
