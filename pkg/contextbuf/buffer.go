package contextbuf

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

// maxEntries bounds the ring regardless of token budget.
const maxEntries = 10000

// compressionAge is how old an entry must be before the compression
// pass may summarise it.
const compressionAge = 10 * time.Minute

// Recorder is the time-series write-through target. Failures in this
// path never block admission.
type Recorder interface {
	WriteMetrics(ctx context.Context, samples []models.MetricSample) error
	WriteLogEvents(ctx context.Context, samples []models.LogEventSample) error
	WriteTriggerEvents(ctx context.Context, records []models.TriggerEventRecord) error
	LatestMetrics(ctx context.Context) ([]models.LatestMetric, error)
	MetricTrends(ctx context.Context, metricName string, window, bucket time.Duration) ([]models.MetricBucket, error)
}

// SimilarityStore is the vector-store slice behind QuerySimilar.
type SimilarityStore interface {
	Query(collection, text string, k int, filters map[string]any) ([]vectorstore.Document, error)
}

// Entry wraps an admitted event with its bookkeeping.
type Entry struct {
	Seq        int          `json:"seq"`
	Event      models.Event `json:"event"`
	Text       string       `json:"text"`
	TokenCount int          `json:"token_count"`
	Compressed bool         `json:"compressed"`
	AddedAt    time.Time    `json:"added_at"`
}

// Stats reports the buffer's accounting counters.
type Stats struct {
	Entries         int `json:"entries"`
	CurrentTokens   int `json:"current_tokens"`
	Capacity        int `json:"capacity"`
	TokensSaved     int `json:"tokens_saved"`
	CompressionRuns int `json:"compression_runs"`
	Dropped         int `json:"dropped"`
}

// Buffer is the context layer: a bounded rolling window of events with
// incremental token accounting. Single-writer; reads take the same
// lock and therefore see consistent snapshots.
type Buffer struct {
	mu sync.Mutex

	host      string
	capacity  int
	tokenizer Tokenizer
	recorder  Recorder        // may be nil
	similar   SimilarityStore // may be nil

	entries         []*Entry
	nextSeq         int
	currentTokens   int
	tokensSaved     int
	compressionRuns int
	dropped         int

	now func() time.Time
}

// New creates a buffer with the given token budget. The budget is
// clamped to 75% of modelCapacity when it exceeds that share.
// recorder may be nil to disable write-through.
func New(host string, budget, modelCapacity int, recorder Recorder) *Buffer {
	if modelCapacity > 0 {
		if limit := modelCapacity * 3 / 4; budget > limit {
			slog.Warn("Context budget exceeds 75% of model capacity, clamping",
				"budget", budget, "model_capacity", modelCapacity, "clamped_to", limit)
			budget = limit
		}
	}
	return &Buffer{
		host:      host,
		capacity:  budget,
		tokenizer: heuristicTokenizer{},
		recorder:  recorder,
		now:       time.Now,
	}
}

// SetTokenizer swaps in an accurate tokenizer. Must be called before use.
func (b *Buffer) SetTokenizer(t Tokenizer) {
	if t != nil {
		b.tokenizer = t
	}
}

// SetSimilarityStore attaches the vector store QuerySimilar delegates
// to. Must be called before use.
func (b *Buffer) SetSimilarityStore(s SimilarityStore) {
	b.similar = s
}

// QuerySimilar searches past issues resembling description, best match
// first. Without an attached store it returns nothing.
func (b *Buffer) QuerySimilar(description string, k int) ([]vectorstore.Document, error) {
	if b.similar == nil {
		return nil, nil
	}
	docs, err := b.similar.Query(vectorstore.CollectionIssues, description, k, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar events: %w", err)
	}
	return docs, nil
}

// MetricTrends returns hourly trend buckets for the named metric over
// the last hours hours (24 when hours is not positive). Without a
// recorder it returns nothing.
func (b *Buffer) MetricTrends(ctx context.Context, name string, hours int) ([]models.MetricBucket, error) {
	if b.recorder == nil {
		return nil, nil
	}
	if hours <= 0 {
		hours = 24
	}
	buckets, err := b.recorder.MetricTrends(ctx, name, time.Duration(hours)*time.Hour, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metric trends: %w", err)
	}
	return buckets, nil
}

// AddEvent admits one event. Overflow first compresses old entries to
// half the budget, then drops the oldest non-critical entries. An
// event with critical severity is always admitted.
func (b *Buffer) AddEvent(ctx context.Context, event models.Event) {
	b.mu.Lock()

	text := renderEvent(&event)
	cost := b.tokenizer.CountTokens(text)
	event.TokenCount = cost

	if cost > b.capacity && event.Severity != models.SeverityCritical {
		b.mu.Unlock()
		slog.Warn("Event larger than entire context budget, skipping",
			"kind", event.Kind, "tokens", cost)
		return
	}

	if b.currentTokens+cost > b.capacity {
		b.compressLocked(b.capacity / 2)
	}
	for b.currentTokens+cost > b.capacity && b.dropOldestLocked(event.Severity == models.SeverityCritical) {
	}

	entry := &Entry{
		Seq:        b.nextSeq,
		Event:      event,
		Text:       text,
		TokenCount: cost,
		AddedAt:    b.now(),
	}
	b.nextSeq++
	b.entries = append(b.entries, entry)
	b.currentTokens += cost
	if len(b.entries) > maxEntries {
		drop := b.entries[0]
		b.entries = b.entries[1:]
		b.currentTokens -= drop.TokenCount
		b.dropped++
	}
	b.mu.Unlock()

	b.writeThrough(ctx, &event)
}

// dropOldestLocked evicts the oldest droppable entry, returning false
// when nothing can be dropped. Critical entries are only dropped when
// the incoming event is itself critical and nothing else remains.
func (b *Buffer) dropOldestLocked(allowCritical bool) bool {
	for i, e := range b.entries {
		if e.Event.Severity != models.SeverityCritical {
			b.removeAtLocked(i)
			return true
		}
	}
	if allowCritical && len(b.entries) > 0 {
		b.removeAtLocked(0)
		return true
	}
	return false
}

func (b *Buffer) removeAtLocked(i int) {
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.currentTokens -= e.TokenCount
	b.dropped++
}

// Compress runs one compression pass down to the target token count
// (0 selects half the budget) and returns how many tokens were saved.
func (b *Buffer) Compress(target int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target <= 0 {
		target = b.capacity / 2
	}
	return b.compressLocked(target)
}

// compressLocked summarises old entries in admission order until the
// running total drops below target. Compression never deletes entries.
// Critical entries are exempt; their nuance is what later reviews need.
func (b *Buffer) compressLocked(target int) int {
	saved := 0
	cutoff := b.now().Add(-compressionAge)
	for _, e := range b.entries {
		if b.currentTokens <= target {
			break
		}
		if e.Compressed || e.AddedAt.After(cutoff) {
			continue
		}
		if e.Event.Severity == models.SeverityCritical {
			continue
		}

		summary := summarize(&e.Event)
		newCost := b.tokenizer.CountTokens(summary)
		if newCost >= e.TokenCount {
			e.Compressed = true
			continue
		}
		delta := e.TokenCount - newCost
		e.Text = summary
		e.TokenCount = newCost
		e.Event.TokenCount = newCost
		e.Event.Compressed = true
		e.Compressed = true
		b.currentTokens -= delta
		saved += delta
	}
	if saved > 0 {
		b.tokensSaved += saved
		b.compressionRuns++
		slog.Debug("Compressed context entries", "tokens_saved", saved,
			"current_tokens", b.currentTokens)
	}
	return saved
}

// summarize produces the rule-based summary for a compressed entry.
func summarize(e *models.Event) string {
	switch e.Kind {
	case models.EventMetricThreshold:
		value, _ := e.PayloadFloat("value")
		return fmt.Sprintf("%s: %.1f", e.PayloadString("trigger_type"), value)
	case models.EventLogPattern:
		return fmt.Sprintf("Log: %s - %s", e.Severity, e.PayloadString("description"))
	case models.EventServiceFailure:
		return fmt.Sprintf("Service %s: %s", e.PayloadString("service"), e.PayloadString("status"))
	default:
		msg := e.PayloadString("message")
		if msg == "" {
			msg = e.PayloadString("summary")
		}
		if len(msg) > 100 {
			msg = msg[:100]
		}
		return fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
}

// renderEvent is the canonical text form used for token accounting and
// the context window.
func renderEvent(e *models.Event) string {
	payload, _ := json.Marshal(e.Payload)
	return fmt.Sprintf("[%s] %s/%s %s %s",
		e.Timestamp.Format(time.RFC3339), e.Kind, e.Severity, e.Source, payload)
}

// writeThrough mirrors the admitted event into the time-series store.
func (b *Buffer) writeThrough(ctx context.Context, e *models.Event) {
	if b.recorder == nil {
		return
	}

	if e.Kind == models.EventMetricThreshold {
		value, _ := e.PayloadFloat("value")
		err := b.recorder.WriteMetrics(ctx, []models.MetricSample{{
			Time:       e.Timestamp,
			Host:       b.host,
			MetricName: e.PayloadString("trigger_type"),
			Value:      value,
			Unit:       "percent",
		}})
		if err != nil {
			slog.Debug("Metric write-through failed", "error", err)
		}
	}

	if e.Kind == models.EventLogPattern {
		err := b.recorder.WriteLogEvents(ctx, []models.LogEventSample{{
			Time:     e.Timestamp,
			Host:     b.host,
			Severity: e.Severity,
			Message:  e.PayloadString("message"),
			Unit:     e.PayloadString("unit"),
		}})
		if err != nil {
			slog.Debug("Log write-through failed", "error", err)
		}
	}

	err := b.recorder.WriteTriggerEvents(ctx, []models.TriggerEventRecord{{
		Time:     e.Timestamp,
		Host:     b.host,
		Kind:     e.Kind,
		Severity: e.Severity,
		Source:   e.Source,
		Payload:  e.Payload,
	}})
	if err != nil {
		slog.Debug("Trigger event write-through failed", "error", err)
	}
}

// Stats returns a snapshot of the accounting counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Entries:         len(b.entries),
		CurrentTokens:   b.currentTokens,
		Capacity:        b.capacity,
		TokensSaved:     b.tokensSaved,
		CompressionRuns: b.compressionRuns,
		Dropped:         b.dropped,
	}
}

// WindowOptions shapes GetWindow output.
type WindowOptions struct {
	IncludeMetrics bool
	IncludeSAR     bool
	MaxTokens      int
}

// GetWindow renders the deterministic context block: header, optional
// recent-metrics summary, optional SAR snapshot, the recent-events
// tail newest first, and a statistics footer. When all sections are
// requested none exceeds its fair share of MaxTokens.
func (b *Buffer) GetWindow(ctx context.Context, opts WindowOptions) string {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = b.capacity
	}

	sections := 1 // events tail always present
	if opts.IncludeMetrics {
		sections++
	}
	if opts.IncludeSAR {
		sections++
	}
	share := opts.MaxTokens / sections

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Host %s at %s ===\n", b.host, b.now().UTC().Format(time.RFC3339))

	if opts.IncludeMetrics {
		sb.WriteString(b.metricsSection(ctx, share))
	}
	if opts.IncludeSAR {
		sb.WriteString(b.sarSection(ctx, share))
	}

	sb.WriteString("--- Recent events (newest first) ---\n")
	sb.WriteString(b.eventsTail(share))

	stats := b.Stats()
	fmt.Fprintf(&sb, "--- Context: %d entries, %d/%d tokens, %d saved by compression ---\n",
		stats.Entries, stats.CurrentTokens, stats.Capacity, stats.TokensSaved)
	return sb.String()
}

func (b *Buffer) eventsTail(maxTokens int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	used := 0
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if used+e.TokenCount > maxTokens {
			break
		}
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
		used += e.TokenCount
	}
	if sb.Len() == 0 {
		return "(no recent events)\n"
	}
	return sb.String()
}

func (b *Buffer) metricsSection(ctx context.Context, maxTokens int) string {
	if b.recorder == nil {
		return ""
	}
	latest, err := b.recorder.LatestMetrics(ctx)
	if err != nil || len(latest) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("--- Current metrics ---\n")
	for _, m := range latest {
		line := fmt.Sprintf("%s: %.1f%s (as of %s)\n",
			m.MetricName, m.Value, m.Unit, m.Time.Format("15:04:05"))
		if b.tokenizer.CountTokens(sb.String()+line) > maxTokens {
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// sarSection summarises hour-scale trends, the closest equivalent of a
// SAR snapshot available from the time-series store.
func (b *Buffer) sarSection(ctx context.Context, maxTokens int) string {
	if b.recorder == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("--- Hourly trends ---\n")
	wrote := false
	for _, name := range []string{"cpu_percent", "memory_percent", "disk_percent", "load_per_cpu"} {
		buckets, err := b.recorder.MetricTrends(ctx, name, time.Hour, 10*time.Minute)
		if err != nil || len(buckets) == 0 {
			continue
		}
		last := buckets[len(buckets)-1]
		line := fmt.Sprintf("%s: avg %.1f, max %.1f over last hour\n", name, last.Avg, last.Max)
		if b.tokenizer.CountTokens(sb.String()+line) > maxTokens {
			break
		}
		sb.WriteString(line)
		wrote = true
	}
	if !wrote {
		return ""
	}
	return sb.String()
}
