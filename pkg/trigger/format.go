package trigger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wardenhq/warden/pkg/models"
)

// maxPerSeverity caps how many events each severity bucket contributes
// to a formatted summary so a noisy burst cannot flood the prompt.
const maxPerSeverity = 5

// FormatTriggersForContext renders a batch of trigger events as a
// compact text block for inclusion in a model prompt. Events are
// grouped by severity, most urgent first, with at most five entries
// per group.
func FormatTriggersForContext(events []models.Event) string {
	if len(events) == 0 {
		return "No active triggers."
	}

	buckets := make(map[models.Severity][]models.Event)
	for _, e := range events {
		buckets[e.Severity] = append(buckets[e.Severity], e)
	}

	order := []models.Severity{
		models.SeverityCritical,
		models.SeverityHigh,
		models.SeverityMedium,
		models.SeverityLow,
	}

	var b strings.Builder
	for _, sev := range order {
		group := buckets[sev]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", strings.ToUpper(string(sev)), len(group))
		shown := group
		if len(shown) > maxPerSeverity {
			shown = shown[:maxPerSeverity]
		}
		for _, e := range shown {
			fmt.Fprintf(&b, "- %s: %s\n", e.Kind, summarizePayload(&e))
		}
		if len(group) > maxPerSeverity {
			fmt.Fprintf(&b, "- ... and %d more\n", len(group)-maxPerSeverity)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// summarizePayload picks the most informative payload fields for a
// one-line rendering, falling back to sorted key=value pairs.
func summarizePayload(e *models.Event) string {
	switch e.Kind {
	case models.EventMetricThreshold:
		value, _ := e.PayloadFloat("value")
		threshold, _ := e.PayloadFloat("threshold")
		return fmt.Sprintf("%s at %.1f (threshold %.1f)",
			e.PayloadString("trigger_type"), value, threshold)
	case models.EventServiceFailure:
		return fmt.Sprintf("%s is %s/%s", e.PayloadString("service"),
			e.PayloadString("status"), e.PayloadString("sub_state"))
	case models.EventLogPattern:
		return fmt.Sprintf("%s (unit %s)", e.PayloadString("description"),
			e.PayloadString("unit"))
	case models.EventErrorRate:
		count, _ := e.PayloadFloat("error_count")
		return fmt.Sprintf("%.0f error-level journal entries in one window", count)
	case models.EventProbeFailure:
		return fmt.Sprintf("%s probe: %s", e.PayloadString("probe"),
			e.PayloadString("error"))
	}

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Payload[k]))
	}
	return strings.Join(parts, " ")
}
