// Package review runs the small-model analysis pass: summarise the
// current context, execute safe low-risk actions and decide whether
// the meta layer should take over.
package review

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/models"
)

const stateFile = "review_model_state.json"

// Generator is the slice of the inference surface the reviewer needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

// ActionRunner dispatches proposals through the safety gate.
type ActionRunner interface {
	Execute(ctx context.Context, p *models.Proposal, contextSnapshot string) *models.ExecutionResult
}

// Stats are the reviewer's lifetime counters, persisted across
// restarts.
type Stats struct {
	ReviewsPerformed  int `json:"reviews_performed"`
	EscalationsToMeta int `json:"escalations_to_meta"`
	ActionsProposed   int `json:"actions_proposed"`
	ActionsExecuted   int `json:"actions_executed"`
}

// Reviewer drives one analysis pass at a time.
type Reviewer struct {
	backend  Generator
	executor ActionRunner
	model    string
	stateDir string
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a reviewer, restoring persisted statistics when present.
func New(backend Generator, executor ActionRunner, model, stateDir string) *Reviewer {
	r := &Reviewer{
		backend:  backend,
		executor: executor,
		model:    model,
		stateDir: stateDir,
		logger:   slog.With("component", "review"),
		now:      time.Now,
	}
	r.loadStats()
	return r
}

// Stats returns a copy of the lifetime counters.
func (r *Reviewer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Review analyses the context window, executes the safe subset of the
// proposed actions and appends the decision to the decision log.
// Parse failures degrade to an "unknown" result rather than an error.
func (r *Reviewer) Review(ctx context.Context, reason, contextWindow string) (*models.ReviewResult, error) {
	prompt := buildPrompt(reason, contextWindow)

	response, err := r.backend.Generate(ctx, llm.GenerateRequest{
		Model:       r.model,
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return nil, fmt.Errorf("review generation failed: %w", err)
	}

	result := parseReviewResponse(response, r.now().UTC())

	executed := r.executeSafeActions(ctx, result, contextWindow)

	r.mu.Lock()
	r.stats.ReviewsPerformed++
	r.stats.ActionsProposed += len(result.SafeActions)
	r.stats.ActionsExecuted += executed
	if result.ShouldEscalate {
		r.stats.EscalationsToMeta++
	}
	r.saveStatsLocked()
	r.mu.Unlock()

	r.logDecision(reason, result)
	return result, nil
}

// executeSafeActions dispatches low-risk proposals of safe types and
// returns how many were actually executed. Everything else is dropped
// here; the meta layer is the path for riskier work.
func (r *Reviewer) executeSafeActions(ctx context.Context, result *models.ReviewResult, contextSnapshot string) int {
	executed := 0
	for i := range result.SafeActions {
		p := &result.SafeActions[i]
		normalizeActionType(p)
		if !safeToExecute(p) {
			r.logger.Info("Dropping unsafe review proposal",
				"action_type", p.ActionType, "risk", p.RiskLevel)
			continue
		}
		res := r.executor.Execute(ctx, p, contextSnapshot)
		if res.Executed {
			executed++
		}
		r.logger.Info("Review action dispatched",
			"action_type", p.ActionType, "status", res.Status)
	}
	return executed
}

// normalizeActionType maps aliases a small model tends to emit onto
// the canonical action types.
func normalizeActionType(p *models.Proposal) {
	switch p.ActionType {
	case "restart_service", "service_restart", "restart":
		p.ActionType = models.ActionSystemdRestart
	case "investigate":
		p.ActionType = models.ActionInvestigation
	}
}

func safeToExecute(p *models.Proposal) bool {
	if p.RiskLevel != models.RiskLow {
		return false
	}
	switch p.ActionType {
	case models.ActionInvestigation, models.ActionSystemdRestart, models.ActionCleanup:
		return true
	}
	return false
}

func buildPrompt(reason, contextWindow string) string {
	return fmt.Sprintf(`You are a system administrator reviewing the state of a Linux host.

Trigger reason: %s

Current system context:
%s

Analyse the situation and respond with ONLY a JSON object:
{
  "status": "healthy|degraded|critical|unknown",
  "summary": "one-paragraph assessment",
  "issues": [{"severity": "low|medium|high|critical", "description": "...", "affected_metrics": ["..."]}],
  "patterns": ["recurring behaviours worth noting"],
  "safe_actions": [{"diagnosis": "...", "proposed_action": "...", "action_type": "investigation|systemd_restart|cleanup", "risk_level": "low", "commands": ["..."]}],
  "should_escalate": false,
  "escalation_reason": ""
}

Only propose safe_actions that are low risk. Set should_escalate to true
when the situation needs deeper analysis or higher-risk intervention.`, reason, contextWindow)
}

// DecisionRecord is one appended line of the decision log.
type DecisionRecord struct {
	Timestamp time.Time            `json:"timestamp"`
	Reason    string               `json:"reason"`
	Result    *models.ReviewResult `json:"result"`
}

// logDecision appends the review outcome to decisions.jsonl.
func (r *Reviewer) logDecision(reason string, result *models.ReviewResult) {
	record := DecisionRecord{
		Timestamp: result.Timestamp,
		Reason:    reason,
		Result:    result,
	}
	line, err := json.Marshal(record)
	if err != nil {
		r.logger.Warn("Failed to encode decision record", "error", err)
		return
	}
	path := filepath.Join(r.stateDir, "decisions.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("Failed to open decision log", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		r.logger.Warn("Failed to append decision log", "error", err)
	}
}

// RecentDecisions returns up to n of the newest decision log entries
// under stateDir, newest first. A missing log yields an empty slice.
// Unparseable lines are skipped.
func RecentDecisions(stateDir string, n int) ([]DecisionRecord, error) {
	path := filepath.Join(stateDir, "decisions.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	defer f.Close()

	var records []DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read decision log: %w", err)
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (r *Reviewer) loadStats() {
	data, err := os.ReadFile(filepath.Join(r.stateDir, stateFile))
	if err != nil {
		return
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		r.logger.Warn("Corrupt review state, starting fresh", "error", err)
		return
	}
	r.stats = stats
}

func (r *Reviewer) saveStatsLocked() {
	data, err := json.MarshalIndent(r.stats, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(r.stateDir, stateFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Warn("Failed to persist review state", "path", path, "error", err)
	}
}
