// Package executor gates proposals by autonomy level and risk,
// dispatches the approved ones and archives every outcome.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/telemetry"
)

// gateDecision is the outcome of the autonomy check.
type gateDecision int

const (
	decisionBlocked gateDecision = iota
	decisionQueued
	decisionAuto
)

// investigationAllowList matches an investigation command's leading
// tokens. Plain "systemctl" is only allowed as "systemctl status".
var investigationAllowList = []string{
	"journalctl", "systemctl status", "df", "free", "ps", "ss", "netstat",
}

// ReflectFunc is the meta layer's learning hook, invoked after a
// successful execution. Its errors are swallowed.
type ReflectFunc func(ctx context.Context, situation, action, outcome string)

// CommandRunner executes one shell command with a timeout, returning
// combined output.
type CommandRunner func(ctx context.Context, timeout time.Duration, command string) (string, error)

// Executor applies the autonomy ladder to proposals.
type Executor struct {
	autonomy  config.AutonomyLevel
	protected map[string]bool
	stateDir  string
	reflect   ReflectFunc // may be nil
	run       CommandRunner
	now       func() time.Time
}

// New creates an executor. reflect may be nil to disable the learning
// hook.
func New(cfg *config.Config, reflect ReflectFunc) *Executor {
	protected := make(map[string]bool, len(cfg.ProtectedServices))
	for _, s := range cfg.ProtectedServices {
		protected[s] = true
		protected[s+".service"] = true
	}
	return &Executor{
		autonomy:  cfg.AutonomyLevel,
		protected: protected,
		stateDir:  cfg.StateDir,
		reflect:   reflect,
		run:       shellRun,
		now:       time.Now,
	}
}

func shellRun(ctx context.Context, timeout time.Duration, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
	return string(out), err
}

// gate applies the autonomy ladder. High risk is never auto-executed.
func (e *Executor) gate(p *models.Proposal) gateDecision {
	if p.RiskLevel == models.RiskHigh {
		if e.autonomy == config.AutonomyObserve {
			return decisionBlocked
		}
		return decisionQueued
	}

	switch e.autonomy {
	case config.AutonomyObserve:
		return decisionBlocked
	case config.AutonomySuggest:
		if p.RiskLevel == models.RiskLow && p.ActionType == models.ActionInvestigation {
			return decisionAuto
		}
		return decisionQueued
	case config.AutonomyAutoSafe:
		if p.RiskLevel == models.RiskLow {
			return decisionAuto
		}
		return decisionQueued
	case config.AutonomyAutoFull:
		return decisionAuto
	}
	return decisionBlocked
}

// Execute gates and, when permitted, dispatches a proposal. Queued
// proposals land in the approval queue; the result says which way it
// went.
func (e *Executor) Execute(ctx context.Context, p *models.Proposal, contextSnapshot string) *models.ExecutionResult {
	var result *models.ExecutionResult

	switch e.gate(p) {
	case decisionBlocked:
		result = &models.ExecutionResult{
			Executed:  false,
			Status:    models.ExecBlocked,
			Output:    fmt.Sprintf("BLOCKED: autonomy level %s does not permit %s/%s actions", e.autonomy, p.ActionType, p.RiskLevel),
			Timestamp: e.now().UTC(),
		}

	case decisionQueued:
		result = e.enqueueForApproval(p, contextSnapshot)

	case decisionAuto:
		result = e.Dispatch(ctx, p)
	}

	e.logExecution(p, result)
	return result
}

// Dispatch runs a proposal's action immediately, bypassing the gate.
// Used directly by approval handling.
func (e *Executor) Dispatch(ctx context.Context, p *models.Proposal) *models.ExecutionResult {
	var result *models.ExecutionResult
	switch p.ActionType {
	case models.ActionSystemdRestart:
		result = e.systemdRestart(ctx, p)
	case models.ActionCleanup:
		result = e.cleanup(ctx)
	case models.ActionInvestigation:
		result = e.investigate(ctx, p)
	case models.ActionHostRebuild:
		result = e.hostRebuild(ctx)
	case models.ActionConfigChange:
		result = e.configChange(p)
	default:
		result = &models.ExecutionResult{
			Executed:  false,
			Status:    models.ExecFailed,
			Error:     fmt.Sprintf("unknown action type %q", p.ActionType),
			Timestamp: e.now().UTC(),
		}
	}

	if result.Succeeded() && e.reflect != nil {
		e.reflect(ctx, p.Diagnosis, p.ProposedAction, result.Output)
	}
	return result
}

// systemdRestart restarts the units named by commands of the exact
// form "systemctl restart <unit>". Protected units are refused with a
// BLOCKED line and never reach the service manager.
func (e *Executor) systemdRestart(ctx context.Context, p *models.Proposal) *models.ExecutionResult {
	var (
		lines   []string
		allOK   = true
		blocked = false
		ran     = false
	)
	for _, command := range p.Commands {
		fields := strings.Fields(command)
		if len(fields) != 3 || fields[0] != "systemctl" || fields[1] != "restart" {
			lines = append(lines, fmt.Sprintf("✗ unsupported restart command: %s", command))
			allOK = false
			continue
		}
		unit := fields[2]
		if e.protected[unit] {
			lines = append(lines, fmt.Sprintf("BLOCKED: %s is a protected service", unit))
			blocked = true
			continue
		}

		out, err := e.run(ctx, 2*time.Minute, command)
		ran = true
		if err != nil {
			lines = append(lines, fmt.Sprintf("✗ %s: %v %s", unit, err, strings.TrimSpace(out)))
			allOK = false
		} else {
			lines = append(lines, fmt.Sprintf("✓ restarted %s", unit))
		}
	}

	status := models.ExecDispatched
	if blocked && !ran {
		status = models.ExecBlocked
	}
	success := allOK && ran && !blocked
	return &models.ExecutionResult{
		Executed:  ran,
		Status:    status,
		Success:   &success,
		Output:    strings.Join(lines, "\n"),
		Timestamp: e.now().UTC(),
	}
}

// cleanup runs the fixed housekeeping sequence, accumulating output
// and never aborting on partial failure.
func (e *Executor) cleanup(ctx context.Context) *models.ExecutionResult {
	sequence := []string{
		"journalctl --vacuum-time=7d",
		"nix-collect-garbage --delete-older-than 7d",
	}

	var lines []string
	anyOK := false
	for _, command := range sequence {
		out, err := e.run(ctx, 10*time.Minute, command)
		if err != nil {
			lines = append(lines, fmt.Sprintf("✗ %s: %v", command, err))
			continue
		}
		anyOK = true
		lines = append(lines, fmt.Sprintf("✓ %s\n%s", command, strings.TrimSpace(out)))
	}

	return &models.ExecutionResult{
		Executed:  true,
		Status:    models.ExecDispatched,
		Success:   &anyOK,
		Output:    strings.Join(lines, "\n"),
		Timestamp: e.now().UTC(),
	}
}

// investigate runs read-only commands from the allow-list. Anything
// else gets a BLOCKED line.
func (e *Executor) investigate(ctx context.Context, p *models.Proposal) *models.ExecutionResult {
	var lines []string
	ran, allOK := false, true
	for _, command := range p.Commands {
		if !investigationAllowed(command) {
			lines = append(lines, fmt.Sprintf("BLOCKED: %s is not a permitted investigation command", command))
			continue
		}
		out, err := e.run(ctx, time.Minute, command)
		ran = true
		if err != nil {
			lines = append(lines, fmt.Sprintf("✗ %s: %v", command, err))
			allOK = false
		} else {
			lines = append(lines, fmt.Sprintf("$ %s\n%s", command, strings.TrimSpace(out)))
		}
	}

	success := ran && allOK
	return &models.ExecutionResult{
		Executed:  ran,
		Status:    models.ExecDispatched,
		Success:   &success,
		Output:    strings.Join(lines, "\n"),
		Timestamp: e.now().UTC(),
	}
}

func investigationAllowed(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range investigationAllowList {
		if trimmed == prefix || strings.HasPrefix(trimmed, prefix+" ") {
			if prefix == "systemctl status" || !strings.HasPrefix(trimmed, "systemctl") {
				return true
			}
		}
	}
	return false
}

// hostRebuild is always two-phase: a dry build first, and the switch
// only when the dry build succeeds.
func (e *Executor) hostRebuild(ctx context.Context) *models.ExecutionResult {
	dryOut, err := e.run(ctx, 10*time.Minute, "nixos-rebuild dry-build")
	if err != nil {
		success := false
		return &models.ExecutionResult{
			Executed:  true,
			Status:    models.ExecDryRun,
			Success:   &success,
			Output:    dryOut,
			Error:     fmt.Sprintf("dry build failed: %v", err),
			Timestamp: e.now().UTC(),
		}
	}

	switchOut, err := e.run(ctx, 30*time.Minute, "nixos-rebuild switch")
	success := err == nil
	result := &models.ExecutionResult{
		Executed:  true,
		Status:    models.ExecDispatched,
		Success:   &success,
		Output:    "dry build:\n" + dryOut + "\nswitch:\n" + switchOut,
		Timestamp: e.now().UTC(),
	}
	if err != nil {
		result.Error = fmt.Sprintf("switch failed: %v", err)
	}
	return result
}

// configChange never writes configuration. It records the proposed
// patch under the state directory and returns the path.
func (e *Executor) configChange(p *models.Proposal) *models.ExecutionResult {
	path := filepath.Join(e.stateDir, fmt.Sprintf("suggested_patch_%d.txt", e.now().Unix()))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Proposed configuration change (%s)\n\n", e.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Diagnosis: %s\n", p.Diagnosis)
	fmt.Fprintf(&sb, "Action: %s\n\n", p.ProposedAction)
	sb.WriteString(p.ConfigChanges)
	if p.RollbackPlan != "" {
		fmt.Fprintf(&sb, "\n\nRollback: %s\n", p.RollbackPlan)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return &models.ExecutionResult{
			Executed:  false,
			Status:    models.ExecFailed,
			Error:     fmt.Sprintf("failed to write patch file: %v", err),
			Timestamp: e.now().UTC(),
		}
	}
	success := true
	return &models.ExecutionResult{
		Executed:  true,
		Status:    models.ExecDispatched,
		Success:   &success,
		Output:    "patch suggestion written to " + path,
		Timestamp: e.now().UTC(),
	}
}

// logExecution appends one JSON line per processed proposal.
func (e *Executor) logExecution(p *models.Proposal, result *models.ExecutionResult) {
	telemetry.ExecutionsTotal.WithLabelValues(string(p.ActionType), string(result.Status)).Inc()
	entry := map[string]any{
		"timestamp": result.Timestamp,
		"proposal":  p,
		"result":    result,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("Failed to encode execution log entry", "error", err)
		return
	}
	path := filepath.Join(e.stateDir, "actions.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Failed to open execution log", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("Failed to append execution log", "error", err)
	}
}
