package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/telemetry"
)

const (
	approvalQueueFile  = "approval_queue.json"
	approvedActionsLog = "approved_actions.jsonl"
)

// PendingApprovals returns the queue in enqueue order.
func (e *Executor) PendingApprovals() ([]models.ApprovalEntry, error) {
	return e.loadApprovalQueue()
}

// enqueueForApproval appends the proposal to the approval queue unless
// a near-duplicate is already pending. Either way the caller gets a
// queued result.
func (e *Executor) enqueueForApproval(p *models.Proposal, contextSnapshot string) *models.ExecutionResult {
	result := &models.ExecutionResult{
		Executed:  false,
		Status:    models.ExecQueuedForApproval,
		Output:    fmt.Sprintf("queued for approval: %s (%s risk)", p.ProposedAction, p.RiskLevel),
		Timestamp: e.now().UTC(),
	}

	queue, err := e.loadApprovalQueue()
	if err != nil {
		slog.Warn("Failed to load approval queue, starting empty", "error", err)
		queue = nil
	}

	for i := range queue {
		pending := &queue[i].Proposal
		if jaccard(p.Diagnosis, pending.Diagnosis) > duplicateThreshold ||
			jaccard(p.ProposedAction, pending.ProposedAction) > duplicateThreshold {
			result.Output = fmt.Sprintf("already queued for approval: %s", pending.ProposedAction)
			return result
		}
	}

	queue = append(queue, models.ApprovalEntry{
		EnqueuedAt:      e.now().UTC(),
		Proposal:        *p,
		ContextSnapshot: contextSnapshot,
		Decision:        models.ApprovalPending,
	})
	if err := e.saveApprovalQueue(queue); err != nil {
		slog.Error("Failed to persist approval queue", "error", err)
		result.Status = models.ExecFailed
		result.Error = fmt.Sprintf("failed to persist approval queue: %v", err)
	}
	return result
}

// Approve dispatches the queued proposal at index. The entry leaves
// the queue and is archived whether or not the dispatch succeeds.
func (e *Executor) Approve(ctx context.Context, index int) (*models.ExecutionResult, error) {
	queue, err := e.loadApprovalQueue()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(queue) {
		return nil, fmt.Errorf("no pending action at index %d (%d queued)", index, len(queue))
	}

	entry := queue[index]
	entry.Decision = models.ApprovalApproved

	result := e.Dispatch(ctx, &entry.Proposal)
	e.logExecution(&entry.Proposal, result)
	e.archiveApproval(&entry, result)

	queue = append(queue[:index], queue[index+1:]...)
	if err := e.saveApprovalQueue(queue); err != nil {
		return result, fmt.Errorf("failed to persist approval queue: %w", err)
	}
	return result, nil
}

// Reject removes the queued proposal at index without executing it.
func (e *Executor) Reject(index int) (*models.ApprovalEntry, error) {
	queue, err := e.loadApprovalQueue()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(queue) {
		return nil, fmt.Errorf("no pending action at index %d (%d queued)", index, len(queue))
	}

	entry := queue[index]
	entry.Decision = models.ApprovalRejected
	e.archiveApproval(&entry, nil)

	queue = append(queue[:index], queue[index+1:]...)
	if err := e.saveApprovalQueue(queue); err != nil {
		return &entry, fmt.Errorf("failed to persist approval queue: %w", err)
	}
	return &entry, nil
}

func (e *Executor) loadApprovalQueue() ([]models.ApprovalEntry, error) {
	path := filepath.Join(e.stateDir, approvalQueueFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read approval queue: %w", err)
	}
	var queue []models.ApprovalEntry
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, fmt.Errorf("failed to parse approval queue: %w", err)
	}
	return queue, nil
}

func (e *Executor) saveApprovalQueue(queue []models.ApprovalEntry) error {
	if queue == nil {
		queue = []models.ApprovalEntry{}
	}
	data, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode approval queue: %w", err)
	}
	path := filepath.Join(e.stateDir, approvalQueueFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write approval queue: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace approval queue: %w", err)
	}
	telemetry.ApprovalQueueDepth.Set(float64(len(queue)))
	return nil
}

// archiveApproval appends the decided entry to the approvals log.
// result is nil for rejections.
func (e *Executor) archiveApproval(entry *models.ApprovalEntry, result *models.ExecutionResult) {
	record := map[string]any{
		"decided_at": e.now().UTC(),
		"entry":      entry,
	}
	if result != nil {
		record["result"] = result
	}
	line, err := json.Marshal(record)
	if err != nil {
		slog.Warn("Failed to encode approval archive entry", "error", err)
		return
	}
	path := filepath.Join(e.stateDir, approvedActionsLog)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Failed to open approval archive", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("Failed to append approval archive", "error", err)
	}
}
