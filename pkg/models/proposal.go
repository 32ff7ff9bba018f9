package models

import "time"

// ActionType classifies what a proposal asks the executor to do.
type ActionType string

// Action types the executor knows how to dispatch.
const (
	ActionSystemdRestart ActionType = "systemd_restart"
	ActionCleanup        ActionType = "cleanup"
	ActionHostRebuild    ActionType = "nix_rebuild"
	ActionConfigChange   ActionType = "config_change"
	ActionInvestigation  ActionType = "investigation"
)

// RiskLevel is the proposer's assessment of blast radius.
type RiskLevel string

// Risk levels. High risk is never auto-executed.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Proposal is a structured remediation produced by the review or meta
// layer and consumed by the executor.
type Proposal struct {
	Diagnosis      string     `json:"diagnosis"`
	ProposedAction string     `json:"proposed_action"`
	ActionType     ActionType `json:"action_type"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	Commands       []string   `json:"commands,omitempty"`
	ConfigChanges  string     `json:"config_changes,omitempty"`
	Reasoning      string     `json:"reasoning,omitempty"`
	RollbackPlan   string     `json:"rollback_plan,omitempty"`
}

// ExecutionStatus describes how the executor disposed of a proposal.
type ExecutionStatus string

// Execution outcomes.
const (
	ExecDispatched        ExecutionStatus = "dispatched"
	ExecQueuedForApproval ExecutionStatus = "queued_for_approval"
	ExecBlocked           ExecutionStatus = "blocked"
	ExecDryRun            ExecutionStatus = "dry_run"
	ExecFailed            ExecutionStatus = "failed"
)

// ExecutionResult is the executor's record of a single proposal's fate.
type ExecutionResult struct {
	Executed  bool            `json:"executed"`
	Status    ExecutionStatus `json:"status"`
	Success   *bool           `json:"success,omitempty"`
	Output    string          `json:"output"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Succeeded reports whether the result was executed and marked successful.
func (r *ExecutionResult) Succeeded() bool {
	return r.Executed && r.Success != nil && *r.Success
}

// ApprovalDecision is the state of an approval-queue entry.
type ApprovalDecision string

// Approval decisions.
const (
	ApprovalPending  ApprovalDecision = "pending"
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalRejected ApprovalDecision = "rejected"
)

// ApprovalEntry is one proposal waiting for operator consent.
type ApprovalEntry struct {
	EnqueuedAt      time.Time        `json:"enqueued_at"`
	Proposal        Proposal         `json:"proposal"`
	ContextSnapshot string           `json:"context_snapshot,omitempty"`
	Decision        ApprovalDecision `json:"decision"`
}
