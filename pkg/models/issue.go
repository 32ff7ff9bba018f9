package models

import (
	"fmt"
	"time"
)

// IssueStatus is the lifecycle state of a tracked issue.
type IssueStatus string

// Issue lifecycle states. Transitions are monotonic along this order;
// closed is terminal.
const (
	IssueOpen          IssueStatus = "open"
	IssueInvestigating IssueStatus = "investigating"
	IssueFixing        IssueStatus = "fixing"
	IssueResolved      IssueStatus = "resolved"
	IssueClosed        IssueStatus = "closed"
)

var issueStatusOrder = map[IssueStatus]int{
	IssueOpen:          0,
	IssueInvestigating: 1,
	IssueFixing:        2,
	IssueResolved:      3,
	IssueClosed:        4,
}

// ValidateIssueTransition reports whether from → to is a legal lifecycle move.
func ValidateIssueTransition(from, to IssueStatus) error {
	fromOrd, ok := issueStatusOrder[from]
	if !ok {
		return fmt.Errorf("unknown issue status %q", from)
	}
	toOrd, ok := issueStatusOrder[to]
	if !ok {
		return fmt.Errorf("unknown issue status %q", to)
	}
	if from == IssueClosed {
		return fmt.Errorf("issue is closed: no further transitions")
	}
	if toOrd < fromOrd {
		return fmt.Errorf("issue status cannot move backwards: %s -> %s", from, to)
	}
	if to == IssueClosed && from != IssueResolved {
		return fmt.Errorf("issue can only be closed from resolved, not %s", from)
	}
	return nil
}

// IssueNote is a time-stamped investigation or action entry on an issue.
type IssueNote struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Issue is the tracker's aggregate root: one deduplicated problem on a host.
type Issue struct {
	ID             string      `json:"id"`
	Host           string      `json:"host"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Severity       Severity    `json:"severity"`
	Status         IssueStatus `json:"status"`
	Source         string      `json:"source"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
	Investigations []IssueNote `json:"investigations"`
	Actions        []IssueNote `json:"actions"`
	Resolution     string      `json:"resolution,omitempty"`
}
