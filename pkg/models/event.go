package models

import "time"

// EventKind identifies what produced an event and how its payload is shaped.
type EventKind string

// Event kinds emitted by the trigger, review and meta layers.
const (
	EventMetricThreshold EventKind = "metric_threshold"
	EventServiceFailure  EventKind = "service_failure"
	EventLogPattern      EventKind = "log_pattern"
	EventErrorRate       EventKind = "error_rate"
	EventProbeFailure    EventKind = "probe_failure"
	EventReviewCompleted EventKind = "review_completed"
	EventActionExecuted  EventKind = "action_executed"
	EventMetaAnalysis    EventKind = "meta_analysis"
)

// Severity ranks how urgent an event or issue is.
type Severity string

// Severity levels, ordered low to critical.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable ordering for severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// EventSource identifies which layer emitted an event.
type EventSource string

// Event sources.
const (
	SourceTrigger EventSource = "trigger"
	SourceReview  EventSource = "review"
	SourceMeta    EventSource = "meta"
	SourceUser    EventSource = "user"
)

// Event is the atomic record flowing from the trigger layer into the
// context buffer. Immutable once admitted, except for the compressed
// transition applied by the context layer.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Kind       EventKind      `json:"kind"`
	Severity   Severity       `json:"severity"`
	Source     EventSource    `json:"source"`
	Payload    map[string]any `json:"payload"`
	TokenCount int            `json:"token_count"`
	Compressed bool           `json:"compressed"`
}

// PayloadString returns the named payload field as a string, or "" when absent.
func (e *Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadFloat returns the named payload field as a float64.
// JSON round-trips turn all numbers into float64, so both are handled.
func (e *Event) PayloadFloat(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
