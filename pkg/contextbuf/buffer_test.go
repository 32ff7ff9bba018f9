package contextbuf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

// recordingStore captures write-through calls in memory.
type recordingStore struct {
	metrics  []models.MetricSample
	logs     []models.LogEventSample
	triggers []models.TriggerEventRecord
	latest   []models.LatestMetric
	trends   []models.MetricBucket

	trendName   string
	trendWindow time.Duration
	trendBucket time.Duration
}

func (r *recordingStore) WriteMetrics(_ context.Context, s []models.MetricSample) error {
	r.metrics = append(r.metrics, s...)
	return nil
}

func (r *recordingStore) WriteLogEvents(_ context.Context, s []models.LogEventSample) error {
	r.logs = append(r.logs, s...)
	return nil
}

func (r *recordingStore) WriteTriggerEvents(_ context.Context, s []models.TriggerEventRecord) error {
	r.triggers = append(r.triggers, s...)
	return nil
}

func (r *recordingStore) LatestMetrics(context.Context) ([]models.LatestMetric, error) {
	return r.latest, nil
}

func (r *recordingStore) MetricTrends(_ context.Context, name string, window, bucket time.Duration) ([]models.MetricBucket, error) {
	r.trendName = name
	r.trendWindow = window
	r.trendBucket = bucket
	return r.trends, nil
}

func metricEvent(value float64) models.Event {
	return models.Event{
		Timestamp: time.Now().UTC(),
		Kind:      models.EventMetricThreshold,
		Severity:  models.SeverityMedium,
		Source:    models.SourceTrigger,
		Payload: map[string]any{
			"trigger_type": "cpu_percent",
			"value":        value,
			"threshold":    90.0,
		},
	}
}

// checkInvariant asserts token conservation: the sum of entry costs
// equals the running total, which never exceeds capacity.
func checkInvariant(t *testing.T, b *Buffer) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	sum := 0
	for _, e := range b.entries {
		sum += e.TokenCount
	}
	assert.Equal(t, b.currentTokens, sum, "token sum mismatch")
	assert.LessOrEqual(t, b.currentTokens, b.capacity, "over budget")
}

func TestAddEvent_TokenConservation(t *testing.T) {
	b := New("testhost", 2000, 0, nil)

	before := b.Stats().CurrentTokens
	b.AddEvent(context.Background(), metricEvent(91))
	after := b.Stats()

	assert.Equal(t, 1, after.Entries)
	assert.Greater(t, after.CurrentTokens, before)
	checkInvariant(t, b)

	for i := 0; i < 50; i++ {
		b.AddEvent(context.Background(), metricEvent(float64(i)))
		checkInvariant(t, b)
	}
}

func TestNew_ClampsToModelCapacity(t *testing.T) {
	b := New("testhost", 10000, 8000, nil)
	assert.Equal(t, 6000, b.Stats().Capacity)

	b = New("testhost", 4000, 8000, nil)
	assert.Equal(t, 4000, b.Stats().Capacity)
}

func TestCompress_Monotonic(t *testing.T) {
	b := New("testhost", 100000, 0, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		b.AddEvent(context.Background(), metricEvent(float64(90+i)))
	}
	entriesBefore := b.Stats().Entries
	tokensBefore := b.Stats().CurrentTokens

	// Entries are too young to compress.
	assert.Equal(t, 0, b.Compress(1))

	now = now.Add(15 * time.Minute)
	saved := b.Compress(1)
	assert.Greater(t, saved, 0)

	after := b.Stats()
	assert.Equal(t, entriesBefore, after.Entries, "compression must not delete")
	assert.LessOrEqual(t, after.CurrentTokens, tokensBefore)
	assert.Equal(t, saved, after.TokensSaved)
	checkInvariant(t, b)
}

func TestCompress_SummaryShape(t *testing.T) {
	e := metricEvent(91.234)
	assert.Equal(t, "cpu_percent: 91.2", summarize(&e))

	log := models.Event{
		Kind:     models.EventLogPattern,
		Severity: models.SeverityHigh,
		Payload:  map[string]any{"description": "Filesystem full"},
	}
	assert.Equal(t, "Log: high - Filesystem full", summarize(&log))

	svc := models.Event{
		Kind:    models.EventServiceFailure,
		Payload: map[string]any{"service": "nginx", "status": "failed"},
	}
	assert.Equal(t, "Service nginx: failed", summarize(&svc))
}

func TestCompress_CriticalExempt(t *testing.T) {
	b := New("testhost", 100000, 0, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	crit := metricEvent(99)
	crit.Severity = models.SeverityCritical
	b.AddEvent(context.Background(), crit)

	now = now.Add(15 * time.Minute)
	b.Compress(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.entries, 1)
	assert.False(t, b.entries[0].Compressed)
}

func TestAddEvent_OverflowCompressesThenDrops(t *testing.T) {
	b := New("testhost", 200, 0, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for i := 0; i < 30; i++ {
		b.AddEvent(context.Background(), metricEvent(float64(i)))
		now = now.Add(time.Minute)
		checkInvariant(t, b)
	}
	assert.Greater(t, b.Stats().Dropped, 0)
}

func TestAddEvent_CriticalNeverRefused(t *testing.T) {
	b := New("testhost", 120, 0, nil)

	// Fill with non-critical, then admit a critical event.
	for i := 0; i < 5; i++ {
		b.AddEvent(context.Background(), metricEvent(float64(i)))
	}
	crit := models.Event{
		Timestamp: time.Now().UTC(),
		Kind:      models.EventServiceFailure,
		Severity:  models.SeverityCritical,
		Source:    models.SourceTrigger,
		Payload:   map[string]any{"service": "sshd", "status": "failed"},
	}
	b.AddEvent(context.Background(), crit)

	found := false
	b.mu.Lock()
	for _, e := range b.entries {
		if e.Event.Severity == models.SeverityCritical {
			found = true
		}
	}
	b.mu.Unlock()
	assert.True(t, found, "critical event must be admitted")
	checkInvariant(t, b)
}

func TestWriteThrough_MetricEvent(t *testing.T) {
	store := &recordingStore{}
	b := New("testhost", 2000, 0, store)

	e := metricEvent(91)
	b.AddEvent(context.Background(), e)

	// Exactly one metric sample with matching fields, plus the trigger
	// event record every admitted event produces.
	require.Len(t, store.metrics, 1)
	assert.Equal(t, "testhost", store.metrics[0].Host)
	assert.Equal(t, "cpu_percent", store.metrics[0].MetricName)
	assert.Equal(t, 91.0, store.metrics[0].Value)
	assert.Equal(t, e.Timestamp, store.metrics[0].Time)
	require.Len(t, store.triggers, 1)
	assert.Empty(t, store.logs)
}

func TestWriteThrough_LogEvent(t *testing.T) {
	store := &recordingStore{}
	b := New("testhost", 2000, 0, store)

	b.AddEvent(context.Background(), models.Event{
		Timestamp: time.Now().UTC(),
		Kind:      models.EventLogPattern,
		Severity:  models.SeverityHigh,
		Source:    models.SourceTrigger,
		Payload:   map[string]any{"description": "Disk I/O error", "message": "I/O error on sda"},
	})

	require.Len(t, store.logs, 1)
	assert.Equal(t, "I/O error on sda", store.logs[0].Message)
	require.Len(t, store.triggers, 1)
}

func TestGetWindow_Shape(t *testing.T) {
	store := &recordingStore{
		latest: []models.LatestMetric{
			{Time: time.Now(), MetricName: "cpu_percent", Value: 42, Unit: "%"},
		},
	}
	b := New("testhost", 4000, 0, store)
	b.AddEvent(context.Background(), metricEvent(91))

	window := b.GetWindow(context.Background(), WindowOptions{
		IncludeMetrics: true,
		MaxTokens:      2000,
	})
	assert.Contains(t, window, "=== Host testhost")
	assert.Contains(t, window, "--- Current metrics ---")
	assert.Contains(t, window, "cpu_percent: 42.0%")
	assert.Contains(t, window, "--- Recent events (newest first) ---")
	assert.Contains(t, window, "metric_threshold")
	assert.Contains(t, window, "--- Context:")
}

func TestGetWindow_NewestFirstAndTruncated(t *testing.T) {
	b := New("testhost", 100000, 0, nil)
	for i := 0; i < 100; i++ {
		b.AddEvent(context.Background(), metricEvent(float64(i)))
	}

	small := b.GetWindow(context.Background(), WindowOptions{MaxTokens: 100})
	full := b.GetWindow(context.Background(), WindowOptions{MaxTokens: 100000})
	assert.Less(t, len(small), len(full))
	// Newest value appears even in the truncated window.
	assert.Contains(t, small, `"value":99`)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context_buffer.json")

	b := New("testhost", 2000, 0, nil)
	for i := 0; i < 5; i++ {
		b.AddEvent(context.Background(), metricEvent(float64(i)))
	}
	want := b.Stats()
	require.NoError(t, b.Save(path))

	restored := New("testhost", 2000, 0, nil)
	require.NoError(t, restored.Load(path))
	got := restored.Stats()
	assert.Equal(t, want.Entries, got.Entries)
	assert.Equal(t, want.CurrentTokens, got.CurrentTokens)
	checkInvariant(t, restored)
}

func TestCheckpoint_CorruptReplacedWithEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context_buffer.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	b := New("testhost", 2000, 0, nil)
	require.NoError(t, b.Load(path))
	assert.Equal(t, 0, b.Stats().Entries)
}

func TestCheckpoint_MissingFileIsFine(t *testing.T) {
	b := New("testhost", 2000, 0, nil)
	require.NoError(t, b.Load(filepath.Join(t.TempDir(), "absent.json")))
}

type recordingSearcher struct {
	collection string
	text       string
	k          int
	docs       []vectorstore.Document
	err        error
}

func (r *recordingSearcher) Query(collection, text string, k int, _ map[string]any) ([]vectorstore.Document, error) {
	r.collection = collection
	r.text = text
	r.k = k
	return r.docs, r.err
}

func TestQuerySimilar_DelegatesToStore(t *testing.T) {
	searcher := &recordingSearcher{docs: []vectorstore.Document{
		{ID: "issue-1", Text: "nginx kept crashing after log rotation", Relevance: 0.8},
	}}
	b := New("testhost", 2000, 0, nil)
	b.SetSimilarityStore(searcher)

	docs, err := b.QuerySimilar("nginx crash loop", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "issue-1", docs[0].ID)
	assert.Equal(t, vectorstore.CollectionIssues, searcher.collection)
	assert.Equal(t, "nginx crash loop", searcher.text)
	assert.Equal(t, 5, searcher.k)
}

func TestQuerySimilar_WithoutStore(t *testing.T) {
	b := New("testhost", 2000, 0, nil)
	docs, err := b.QuerySimilar("anything", 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMetricTrends_DelegatesToRecorder(t *testing.T) {
	store := &recordingStore{trends: []models.MetricBucket{{Avg: 42, Max: 61}}}
	b := New("testhost", 2000, 0, store)

	buckets, err := b.MetricTrends(context.Background(), "cpu_percent", 6)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "cpu_percent", store.trendName)
	assert.Equal(t, 6*time.Hour, store.trendWindow)
	assert.Equal(t, time.Hour, store.trendBucket)

	// A non-positive horizon falls back to the last day.
	_, err = b.MetricTrends(context.Background(), "cpu_percent", 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, store.trendWindow)
}

func TestMetricTrends_WithoutRecorder(t *testing.T) {
	b := New("testhost", 2000, 0, nil)
	buckets, err := b.MetricTrends(context.Background(), "cpu_percent", 6)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}
