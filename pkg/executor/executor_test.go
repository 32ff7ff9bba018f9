package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/models"
)

type fakeRunner struct {
	commands []string
	fail     map[string]bool
	output   string
}

func (f *fakeRunner) run(_ context.Context, _ time.Duration, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.fail[command] {
		return "", assert.AnError
	}
	if f.output != "" {
		return f.output, nil
	}
	return "ok", nil
}

func newTestExecutor(t *testing.T, level config.AutonomyLevel) (*Executor, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{fail: map[string]bool{}}
	cfg := &config.Config{
		StateDir:          t.TempDir(),
		AutonomyLevel:     level,
		ProtectedServices: []string{"sshd", "dbus"},
	}
	e := New(cfg, nil)
	e.run = runner.run
	return e, runner
}

func restartProposal(risk models.RiskLevel, units ...string) *models.Proposal {
	commands := make([]string, len(units))
	for i, u := range units {
		commands[i] = "systemctl restart " + u
	}
	return &models.Proposal{
		Diagnosis:      "nginx is failing health checks after log rotation",
		ProposedAction: "restart " + strings.Join(units, " and "),
		ActionType:     models.ActionSystemdRestart,
		RiskLevel:      risk,
		Commands:       commands,
	}
}

func TestGateLadder(t *testing.T) {
	cases := []struct {
		level    config.AutonomyLevel
		risk     models.RiskLevel
		action   models.ActionType
		expected gateDecision
	}{
		{config.AutonomyObserve, models.RiskLow, models.ActionInvestigation, decisionBlocked},
		{config.AutonomyObserve, models.RiskMedium, models.ActionSystemdRestart, decisionBlocked},
		{config.AutonomyObserve, models.RiskHigh, models.ActionHostRebuild, decisionBlocked},

		{config.AutonomySuggest, models.RiskLow, models.ActionInvestigation, decisionAuto},
		{config.AutonomySuggest, models.RiskLow, models.ActionSystemdRestart, decisionQueued},
		{config.AutonomySuggest, models.RiskMedium, models.ActionSystemdRestart, decisionQueued},
		{config.AutonomySuggest, models.RiskHigh, models.ActionHostRebuild, decisionQueued},

		{config.AutonomyAutoSafe, models.RiskLow, models.ActionSystemdRestart, decisionAuto},
		{config.AutonomyAutoSafe, models.RiskLow, models.ActionCleanup, decisionAuto},
		{config.AutonomyAutoSafe, models.RiskMedium, models.ActionSystemdRestart, decisionQueued},
		{config.AutonomyAutoSafe, models.RiskHigh, models.ActionHostRebuild, decisionQueued},

		{config.AutonomyAutoFull, models.RiskLow, models.ActionInvestigation, decisionAuto},
		{config.AutonomyAutoFull, models.RiskMedium, models.ActionSystemdRestart, decisionAuto},
		{config.AutonomyAutoFull, models.RiskHigh, models.ActionHostRebuild, decisionQueued},
	}

	for _, tc := range cases {
		e, _ := newTestExecutor(t, tc.level)
		p := &models.Proposal{ActionType: tc.action, RiskLevel: tc.risk}
		assert.Equal(t, tc.expected, e.gate(p), "level=%s risk=%s action=%s", tc.level, tc.risk, tc.action)
	}
}

func TestExecuteQueuesMediumRestartUnderSuggest(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomySuggest)

	result := e.Execute(context.Background(), restartProposal(models.RiskMedium, "nginx"), "cpu high")

	assert.Equal(t, models.ExecQueuedForApproval, result.Status)
	assert.False(t, result.Executed)
	assert.Empty(t, runner.commands)

	queue, err := e.PendingApprovals()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, models.ApprovalPending, queue[0].Decision)
	assert.Equal(t, "cpu high", queue[0].ContextSnapshot)
}

func TestEnqueueDeduplicatesSimilarProposals(t *testing.T) {
	e, _ := newTestExecutor(t, config.AutonomySuggest)

	first := restartProposal(models.RiskMedium, "nginx")
	second := restartProposal(models.RiskMedium, "nginx")
	second.Diagnosis = "nginx failing health checks since log rotation"

	r1 := e.Execute(context.Background(), first, "")
	r2 := e.Execute(context.Background(), second, "")

	assert.Equal(t, models.ExecQueuedForApproval, r1.Status)
	assert.Equal(t, models.ExecQueuedForApproval, r2.Status)
	assert.Contains(t, r2.Output, "already queued")

	queue, err := e.PendingApprovals()
	require.NoError(t, err)
	assert.Len(t, queue, 1)
}

func TestProtectedServiceNeverRestarted(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)

	result := e.Execute(context.Background(), restartProposal(models.RiskMedium, "sshd"), "")

	assert.Equal(t, models.ExecBlocked, result.Status)
	assert.Contains(t, result.Output, "BLOCKED: sshd is a protected service")
	assert.Empty(t, runner.commands, "protected unit must never reach the service manager")
}

func TestRestartMixedProtectedAndAllowed(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)

	result := e.Execute(context.Background(), restartProposal(models.RiskMedium, "sshd", "nginx"), "")

	assert.True(t, result.Executed)
	assert.Contains(t, result.Output, "BLOCKED: sshd is a protected service")
	assert.Contains(t, result.Output, "✓ restarted nginx")
	assert.Equal(t, []string{"systemctl restart nginx"}, runner.commands)
	assert.False(t, result.Succeeded(), "a blocked unit means the proposal did not fully succeed")
}

func TestApproveDispatchesAndDrainsQueue(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomySuggest)
	e.Execute(context.Background(), restartProposal(models.RiskMedium, "nginx"), "")

	result, err := e.Approve(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"systemctl restart nginx"}, runner.commands)

	queue, err := e.PendingApprovals()
	require.NoError(t, err)
	assert.Empty(t, queue)

	data, err := os.ReadFile(filepath.Join(e.stateDir, approvedActionsLog))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"approved"`)

	_, err = e.Approve(context.Background(), 0)
	assert.Error(t, err, "a second approval of the same index must fail")
}

func TestApproveRemovesEntryEvenWhenDispatchFails(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomySuggest)
	runner.fail["systemctl restart nginx"] = true
	e.Execute(context.Background(), restartProposal(models.RiskMedium, "nginx"), "")

	result, err := e.Approve(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, result.Succeeded())

	queue, err := e.PendingApprovals()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestRejectRemovesWithoutExecuting(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomySuggest)
	e.Execute(context.Background(), restartProposal(models.RiskMedium, "nginx"), "")

	entry, err := e.Reject(0)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, entry.Decision)
	assert.Empty(t, runner.commands)

	queue, err := e.PendingApprovals()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestCleanupContinuesPastFailure(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)
	runner.fail["journalctl --vacuum-time=7d"] = true

	result := e.Execute(context.Background(), &models.Proposal{
		ActionType: models.ActionCleanup,
		RiskLevel:  models.RiskLow,
	}, "")

	assert.True(t, result.Succeeded(), "one successful step is enough")
	assert.Len(t, runner.commands, 2)
	assert.Contains(t, result.Output, "✗ journalctl --vacuum-time=7d")
	assert.Contains(t, result.Output, "✓ nix-collect-garbage --delete-older-than 7d")
}

func TestInvestigationAllowList(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)

	result := e.Execute(context.Background(), &models.Proposal{
		ActionType: models.ActionInvestigation,
		RiskLevel:  models.RiskLow,
		Commands: []string{
			"journalctl -u nginx -n 50",
			"systemctl status nginx",
			"df -h",
			"systemctl restart nginx",
			"rm -rf /tmp/scratch",
		},
	}, "")

	assert.Equal(t, []string{
		"journalctl -u nginx -n 50",
		"systemctl status nginx",
		"df -h",
	}, runner.commands)
	assert.Contains(t, result.Output, "BLOCKED: systemctl restart nginx")
	assert.Contains(t, result.Output, "BLOCKED: rm -rf /tmp/scratch")
}

func TestInvestigationAllowedPrefixes(t *testing.T) {
	allowed := []string{
		"journalctl -b",
		"systemctl status sshd",
		"df",
		"free -m",
		"ps aux",
		"ss -tlnp",
		"netstat -an",
	}
	for _, c := range allowed {
		assert.True(t, investigationAllowed(c), c)
	}
	denied := []string{
		"systemctl stop nginx",
		"systemctl",
		"dfoo",
		"freeform write",
		"curl http://example.com",
	}
	for _, c := range denied {
		assert.False(t, investigationAllowed(c), c)
	}
}

func TestHostRebuildDryBuildGatesSwitch(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)
	runner.fail["nixos-rebuild dry-build"] = true

	result := e.Dispatch(context.Background(), &models.Proposal{
		ActionType: models.ActionHostRebuild,
		RiskLevel:  models.RiskMedium,
	})

	assert.Equal(t, models.ExecDryRun, result.Status)
	assert.False(t, result.Succeeded())
	assert.Equal(t, []string{"nixos-rebuild dry-build"}, runner.commands)
}

func TestHostRebuildRunsSwitchAfterDryBuild(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)

	result := e.Dispatch(context.Background(), &models.Proposal{
		ActionType: models.ActionHostRebuild,
		RiskLevel:  models.RiskMedium,
	})

	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"nixos-rebuild dry-build", "nixos-rebuild switch"}, runner.commands)
}

func TestConfigChangeWritesPatchFile(t *testing.T) {
	e, _ := newTestExecutor(t, config.AutonomyAutoFull)

	result := e.Dispatch(context.Background(), &models.Proposal{
		Diagnosis:      "journald rate limits too low",
		ProposedAction: "raise RateLimitBurst",
		ActionType:     models.ActionConfigChange,
		RiskLevel:      models.RiskMedium,
		ConfigChanges:  "RateLimitBurst=5000",
		RollbackPlan:   "revert journald.conf",
	})

	require.True(t, result.Succeeded())
	require.Contains(t, result.Output, "suggested_patch_")

	path := strings.TrimPrefix(result.Output, "patch suggestion written to ")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RateLimitBurst=5000")
	assert.Contains(t, string(data), "Rollback: revert journald.conf")
}

func TestExecuteAppendsActionLog(t *testing.T) {
	e, _ := newTestExecutor(t, config.AutonomyObserve)

	e.Execute(context.Background(), restartProposal(models.RiskLow, "nginx"), "")
	e.Execute(context.Background(), restartProposal(models.RiskLow, "redis"), "")

	data, err := os.ReadFile(filepath.Join(e.stateDir, "actions.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Contains(t, entry, "proposal")
	assert.Contains(t, entry, "result")
}

func TestReflectHookRunsOnlyOnSuccess(t *testing.T) {
	e, runner := newTestExecutor(t, config.AutonomyAutoFull)
	var reflected []string
	e.reflect = func(_ context.Context, situation, action, outcome string) {
		reflected = append(reflected, action)
	}

	e.Execute(context.Background(), restartProposal(models.RiskLow, "nginx"), "")
	require.Len(t, reflected, 1)

	runner.fail["systemctl restart redis"] = true
	e.Execute(context.Background(), restartProposal(models.RiskLow, "redis"), "")
	assert.Len(t, reflected, 1, "failed executions must not feed the learning hook")
}
