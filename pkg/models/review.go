package models

import "time"

// ReviewIssue is one problem surfaced by a review pass.
type ReviewIssue struct {
	Severity        Severity `json:"severity"`
	Description     string   `json:"description"`
	AffectedMetrics []string `json:"affected_metrics,omitempty"`
}

// ReviewResult is the structured output of one review-layer analysis.
type ReviewResult struct {
	Status           string        `json:"status"`
	Summary          string        `json:"summary"`
	Issues           []ReviewIssue `json:"issues"`
	Patterns         []string      `json:"patterns"`
	SafeActions      []Proposal    `json:"safe_actions"`
	ShouldEscalate   bool          `json:"should_escalate"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	RawResponse      string        `json:"raw_response,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// MetaAnalysis is the meta layer's record of one escalation.
type MetaAnalysis struct {
	Reason    string    `json:"reason"`
	Analysis  string    `json:"analysis"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
