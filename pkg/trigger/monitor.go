package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/sysprobe"
)

// Debounce windows. Metric and service triggers share the default;
// log-pattern triggers fire more often because distinct occurrences of
// the same pattern usually mean distinct incidents.
const (
	DefaultDebounce    = 5 * time.Minute
	LogPatternDebounce = time.Minute
)

// metricCheck is one configured threshold tuple.
type metricCheck struct {
	name      string
	threshold float64
	severity  models.Severity
	read      func(sysprobe.Metrics) float64
}

// Classifier attaches a small-model classification to log events.
// Optional; nil disables AI classification.
type Classifier interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

// Monitor is the trigger layer: it turns raw signals into debounced,
// typed events and decides whether a batch warrants a review pass.
type Monitor struct {
	source     sysprobe.Source
	classifier Classifier
	model      string

	checks           []metricCheck
	criticalServices []string
	patterns         []LogPattern
	errorLogRate     int

	lastEmit      map[string]time.Time
	journalCursor string
	cursorWarned  bool

	stats Stats
	now   func() time.Time
}

// Stats counts trigger-layer activity since startup.
type Stats struct {
	ChecksPerformed      int `json:"checks_performed"`
	TriggersFired        int `json:"triggers_fired"`
	PatternsMatched      int `json:"patterns_matched"`
	ModelClassifications int `json:"model_classifications"`
}

// Stats returns a snapshot of the trigger counters.
func (m *Monitor) Stats() Stats { return m.stats }

// NewMonitor builds the trigger layer from configuration. classifier
// may be nil to disable AI classification of log events.
func NewMonitor(cfg *config.Config, source sysprobe.Source, classifier Classifier) *Monitor {
	th := cfg.Thresholds
	return &Monitor{
		source:     source,
		classifier: classifier,
		model:      cfg.Inference.TriggerModel,
		checks: []metricCheck{
			{"cpu_percent", th.CPUPercent, models.SeverityMedium,
				func(m sysprobe.Metrics) float64 { return m.CPUPercent }},
			{"memory_percent", th.MemoryPercent, models.SeverityMedium,
				func(m sysprobe.Metrics) float64 { return m.MemoryPercent }},
			{"disk_percent", th.DiskPercent, models.SeverityHigh,
				func(m sysprobe.Metrics) float64 { return m.DiskPercent }},
			{"load_per_cpu", th.LoadPerCPU, models.SeverityMedium,
				func(m sysprobe.Metrics) float64 { return m.LoadPerCPU }},
		},
		criticalServices: cfg.CriticalServices,
		patterns:         DefaultLogPatterns(),
		errorLogRate:     th.ErrorLogRate,
		lastEmit:         make(map[string]time.Time),
		now:              time.Now,
	}
}

// debounced reports whether the key may emit now, recording the
// emission time when it may.
func (m *Monitor) debounced(key string, window time.Duration) bool {
	now := m.now()
	if last, ok := m.lastEmit[key]; ok && now.Sub(last) < window {
		return false
	}
	m.lastEmit[key] = now
	return true
}

// Check runs one full trigger pass and returns the emitted events plus
// the review-worthy verdict.
func (m *Monitor) Check(ctx context.Context) ([]models.Event, bool) {
	var events []models.Event

	events = append(events, m.checkMetrics(ctx)...)
	events = append(events, m.checkServices(ctx)...)
	events = append(events, m.checkJournal(ctx)...)

	m.stats.ChecksPerformed++
	m.stats.TriggersFired += len(events)
	return events, ReviewWorthy(events)
}

// ReviewWorthy is true iff the batch contains any critical event, at
// least two high events, or at least three medium events.
func ReviewWorthy(events []models.Event) bool {
	high, medium := 0, 0
	for _, e := range events {
		switch e.Severity {
		case models.SeverityCritical:
			return true
		case models.SeverityHigh:
			high++
		case models.SeverityMedium:
			medium++
		}
	}
	return high >= 2 || medium >= 3
}

func (m *Monitor) checkMetrics(ctx context.Context) []models.Event {
	var events []models.Event
	snapshot, err := m.source.MetricsSnapshot(ctx)
	if err != nil {
		slog.Warn("Metric probe failed", "error", err)
		if m.debounced("probe:metrics", DefaultDebounce) {
			events = append(events, m.probeFailureEvent("metrics", err))
		}
		// The snapshot still carries whatever probes did succeed.
	}

	for _, check := range m.checks {
		value := check.read(snapshot)
		if value < check.threshold {
			continue
		}
		if !m.debounced("metric:"+check.name, DefaultDebounce) {
			continue
		}
		events = append(events, models.Event{
			Timestamp: m.now().UTC(),
			Kind:      models.EventMetricThreshold,
			Severity:  check.severity,
			Source:    models.SourceTrigger,
			Payload: map[string]any{
				"trigger_type": check.name,
				"value":        value,
				"threshold":    check.threshold,
			},
		})
	}
	return events
}

func (m *Monitor) checkServices(ctx context.Context) []models.Event {
	var events []models.Event
	for _, name := range m.criticalServices {
		state, err := m.source.UnitStatus(ctx, name)
		if err != nil {
			slog.Warn("Service probe failed", "unit", name, "error", err)
			continue
		}
		if !state.Exists {
			continue
		}
		if state.ActiveState == "active" || state.ActiveState == "activating" {
			continue
		}
		if !m.debounced("service:"+name, DefaultDebounce) {
			continue
		}
		events = append(events, models.Event{
			Timestamp: m.now().UTC(),
			Kind:      models.EventServiceFailure,
			Severity:  models.SeverityCritical,
			Source:    models.SourceTrigger,
			Payload: map[string]any{
				"service":   name,
				"status":    state.ActiveState,
				"sub_state": state.SubState,
			},
		})
	}
	return events
}

func (m *Monitor) checkJournal(ctx context.Context) []models.Event {
	newCursor, records, err := m.source.JournalAfter(ctx, m.journalCursor)
	if err != nil {
		slog.Warn("Journal probe failed", "error", err)
		if m.journalCursor != "" && !m.cursorWarned {
			slog.Warn("Journal cursor may be stale, restarting from five minutes ago")
			m.cursorWarned = true
			m.journalCursor = ""
		}
		if m.debounced("probe:journal", DefaultDebounce) {
			return []models.Event{m.probeFailureEvent("journal", err)}
		}
		return nil
	}
	m.journalCursor = newCursor

	var events []models.Event
	errorCount := 0
	for _, rec := range records {
		if rec.Priority <= 3 {
			errorCount++
		}
		for i := range m.patterns {
			p := &m.patterns[i]
			if !p.Regex.MatchString(rec.Message) {
				continue
			}
			m.stats.PatternsMatched++
			if m.debounced("pattern:"+p.Description, LogPatternDebounce) {
				events = append(events, m.logPatternEvent(ctx, p, rec))
			}
			break
		}
	}

	if errorCount > m.errorLogRate && m.debounced("error_rate", DefaultDebounce) {
		events = append(events, models.Event{
			Timestamp: m.now().UTC(),
			Kind:      models.EventErrorRate,
			Severity:  models.SeverityMedium,
			Source:    models.SourceTrigger,
			Payload: map[string]any{
				"error_count": errorCount,
				"threshold":   m.errorLogRate,
			},
		})
	}
	return events
}

func (m *Monitor) logPatternEvent(ctx context.Context, p *LogPattern, rec sysprobe.JournalRecord) models.Event {
	event := models.Event{
		Timestamp: m.now().UTC(),
		Kind:      models.EventLogPattern,
		Severity:  p.Severity,
		Source:    models.SourceTrigger,
		Payload: map[string]any{
			"description": p.Description,
			"unit":        rec.Unit,
			"message":     rec.Message,
		},
	}
	if classification := m.classify(ctx, p, rec); classification != nil {
		event.Payload["ai_classification"] = classification
	}
	return event
}

// aiClassification is the structured verdict of the small trigger model.
type aiClassification struct {
	Severity          string `json:"severity"`
	Category          string `json:"category"`
	Summary           string `json:"summary"`
	RecommendedAction string `json:"recommended_action"`
}

// classify asks the small model for a quick read of the log line.
// Failures are swallowed; the base event stands on its own.
func (m *Monitor) classify(ctx context.Context, p *LogPattern, rec sysprobe.JournalRecord) map[string]any {
	if m.classifier == nil {
		return nil
	}

	prompt := fmt.Sprintf(
		"Classify this system log event. Respond with JSON only: "+
			`{"severity": "low|medium|high|critical", "category": "...", "summary": "...", "recommended_action": "..."}`+
			"\n\nPattern: %s\nUnit: %s\nMessage: %s",
		p.Description, rec.Unit, rec.Message)

	out, err := m.classifier.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompt,
		Model:       m.model,
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		slog.Debug("Log classification failed", "error", err)
		return nil
	}

	var c aiClassification
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &c); err != nil {
		return nil
	}
	m.stats.ModelClassifications++
	return map[string]any{
		"severity":           c.Severity,
		"category":           c.Category,
		"summary":            c.Summary,
		"recommended_action": c.RecommendedAction,
	}
}

func (m *Monitor) probeFailureEvent(probe string, err error) models.Event {
	return models.Event{
		Timestamp: m.now().UTC(),
		Kind:      models.EventProbeFailure,
		Severity:  models.SeverityMedium,
		Source:    models.SourceTrigger,
		Payload: map[string]any{
			"probe": probe,
			"error": err.Error(),
		},
	}
}
