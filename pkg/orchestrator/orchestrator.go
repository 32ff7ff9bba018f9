// Package orchestrator composes the four layers into the periodic
// trigger/review cycle and demand-driven meta escalations. Exactly
// one orchestrator runs per host.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/contextbuf"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/notify"
	"github.com/wardenhq/warden/pkg/telemetry"
	"github.com/wardenhq/warden/pkg/trigger"
)

const (
	// escalationDebounce is the per-reason minimum interval between
	// meta invocations.
	escalationDebounce = 5 * time.Minute

	// errorBackoff is how long a failed cycle pauses the loop.
	errorBackoff = time.Minute
)

// Checker is the trigger layer surface the orchestrator drives.
type Checker interface {
	Check(ctx context.Context) ([]models.Event, bool)
}

// ReviewRunner is the review layer surface.
type ReviewRunner interface {
	Review(ctx context.Context, reason, contextWindow string) (*models.ReviewResult, error)
}

// Analyzer is the meta layer surface.
type Analyzer interface {
	Analyze(ctx context.Context, reason, contextWindow string) *models.MetaAnalysis
}

// IssueTracker is the tracker surface used during review handling.
type IssueTracker interface {
	Create(host, title, description string, severity models.Severity, source string) (string, error)
	AutoResolveIfFixed(host string, detected []string) (int, error)
}

// Orchestrator owns the tickers and the cycle ordering: trigger,
// context admission, then conditionally review and meta.
type Orchestrator struct {
	cfg      *config.Config
	monitor  Checker
	buffer   *contextbuf.Buffer
	review   ReviewRunner
	meta     Analyzer
	tracker  IssueTracker // may be nil
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	reviewMu sync.Mutex

	mu              sync.Mutex
	reviewErrors    int
	lastEscalation  map[string]time.Time
	metaInvocations int
}

// New wires an orchestrator. tracker may be nil to disable issue
// bookkeeping; notifier may be nil to silence operator alerts.
func New(cfg *config.Config, monitor Checker, buffer *contextbuf.Buffer, review ReviewRunner, meta Analyzer, tracker IssueTracker, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		monitor:        monitor,
		buffer:         buffer,
		review:         review,
		meta:           meta,
		tracker:        tracker,
		notifier:       notifier,
		logger:         slog.With("component", "orchestrator"),
		now:            time.Now,
		lastEscalation: make(map[string]time.Time),
	}
}

// CheckpointPath is where the context buffer persists across restarts.
func (o *Orchestrator) CheckpointPath() string {
	return filepath.Join(o.cfg.StateDir, "context_buffer.json")
}

// Restore reloads the context buffer checkpoint. Corrupt or missing
// state is not fatal.
func (o *Orchestrator) Restore() {
	if err := o.buffer.Load(o.CheckpointPath()); err != nil {
		o.logger.Warn("Failed to restore context buffer", "error", err)
	}
}

// Checkpoint persists the context buffer.
func (o *Orchestrator) Checkpoint() {
	if err := o.buffer.Save(o.CheckpointPath()); err != nil {
		o.logger.Warn("Failed to checkpoint context buffer", "error", err)
	}
}

// RunOnce performs a single full cycle: trigger, admission and, when
// the batch is review-worthy, review.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	o.cycle(ctx, false)
}

// Run loops until ctx is cancelled, driving the trigger and review
// tickers. The buffer is checkpointed on the way out.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Restore()
	defer o.Checkpoint()

	triggerTick := time.NewTicker(o.cfg.TriggerInterval)
	defer triggerTick.Stop()
	reviewTick := time.NewTicker(o.cfg.ReviewInterval)
	defer reviewTick.Stop()

	o.logger.Info("Orchestrator started",
		"trigger_interval", o.cfg.TriggerInterval,
		"review_interval", o.cfg.ReviewInterval,
		"autonomy", o.cfg.AutonomyLevel)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Orchestrator stopping")
			return
		case <-triggerTick.C:
			if !o.safeCycle(ctx, false) {
				if !sleepCtx(ctx, errorBackoff) {
					return
				}
			}
		case <-reviewTick.C:
			if !o.safeCycle(ctx, true) {
				if !sleepCtx(ctx, errorBackoff) {
					return
				}
			}
		}
	}
}

// safeCycle contains any panic escaping a cycle so one bad pass never
// kills the loop. Returns false when the cycle panicked.
func (o *Orchestrator) safeCycle(ctx context.Context, forceReview bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Cycle panicked", "panic", r)
			telemetry.CyclesTotal.WithLabelValues("panic").Inc()
			ok = false
		}
	}()
	o.cycle(ctx, forceReview)
	return true
}

// cycle runs one ordered pass. forceReview runs the review layer even
// when the trigger batch is not review-worthy.
func (o *Orchestrator) cycle(ctx context.Context, forceReview bool) {
	events, worthy := o.monitor.Check(ctx)

	for i := range events {
		o.buffer.AddEvent(ctx, events[i])
		telemetry.EventsEmitted.WithLabelValues(string(events[i].Kind), string(events[i].Severity)).Inc()
		if events[i].Severity == models.SeverityCritical {
			o.sendNotification(ctx, "Critical trigger on "+o.cfg.Hostname, summariseEvent(&events[i]), "high")
		}
	}
	telemetry.ContextTokens.Set(float64(o.buffer.Stats().CurrentTokens))

	if worthy || forceReview {
		o.runReview(ctx, reviewReason(events, forceReview), events)
	}
	telemetry.CyclesTotal.WithLabelValues("ok").Inc()
}

// reviewReason renders a short human-readable trigger summary.
func reviewReason(events []models.Event, periodic bool) string {
	if len(events) == 0 {
		if periodic {
			return "periodic review"
		}
		return "trigger check"
	}
	counts := make(map[models.EventKind]int)
	var order []models.EventKind
	for i := range events {
		if counts[events[i].Kind] == 0 {
			order = append(order, events[i].Kind)
		}
		counts[events[i].Kind]++
	}
	parts := make([]string, 0, len(order))
	for _, kind := range order {
		parts = append(parts, fmt.Sprintf("%dx %s", counts[kind], kind))
	}
	return "trigger events: " + strings.Join(parts, ", ")
}

// runReview performs one review pass. At most one review is in
// flight; overlapping requests are skipped, not queued.
func (o *Orchestrator) runReview(ctx context.Context, reason string, events []models.Event) {
	if !o.reviewMu.TryLock() {
		o.logger.Info("Review already in flight, skipping", "reason", reason)
		return
	}
	defer o.reviewMu.Unlock()

	window := o.buffer.GetWindow(ctx, contextbuf.WindowOptions{
		IncludeMetrics: true,
		IncludeSAR:     true,
		MaxTokens:      o.cfg.ContextSize,
	})
	if len(events) > 0 {
		window = "Active triggers:\n" + trigger.FormatTriggersForContext(events) + "\n\n" + window
	}

	result, err := o.review.Review(ctx, reason, window)
	if err != nil {
		o.mu.Lock()
		o.reviewErrors++
		failures := o.reviewErrors
		o.mu.Unlock()

		o.logger.Error("Review failed", "error", err, "consecutive_failures", failures)
		telemetry.ReviewsTotal.WithLabelValues("error").Inc()
		if failures >= 2 {
			o.escalate(ctx, "review layer failed twice in a row", window)
		}
		return
	}
	o.mu.Lock()
	o.reviewErrors = 0
	o.mu.Unlock()
	telemetry.ReviewsTotal.WithLabelValues(result.Status).Inc()

	o.buffer.AddEvent(ctx, models.Event{
		Timestamp: result.Timestamp,
		Kind:      models.EventReviewCompleted,
		Severity:  reviewSeverity(result),
		Source:    models.SourceReview,
		Payload: map[string]any{
			"status":  result.Status,
			"summary": result.Summary,
		},
	})

	o.trackIssues(result, events)

	if result.ShouldEscalate {
		reason := result.EscalationReason
		if reason == "" {
			reason = "review requested escalation"
		}
		o.escalate(ctx, reason, window)
	}
}

func reviewSeverity(result *models.ReviewResult) models.Severity {
	switch result.Status {
	case "critical":
		return models.SeverityHigh
	case "degraded":
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// trackIssues opens issues for significant review findings and
// auto-resolves the ones no longer detected.
func (o *Orchestrator) trackIssues(result *models.ReviewResult, events []models.Event) {
	if o.tracker == nil {
		return
	}

	detected := make([]string, 0, len(result.Issues)+len(events))
	for i := range result.Issues {
		issue := &result.Issues[i]
		detected = append(detected, issue.Description)
		if issue.Severity.Rank() < models.SeverityHigh.Rank() {
			continue
		}
		if _, err := o.tracker.Create(o.cfg.Hostname, issueTitle(issue.Description), issue.Description, issue.Severity, "review"); err != nil {
			o.logger.Warn("Failed to record issue", "error", err)
		}
	}
	for i := range events {
		detected = append(detected, summariseEvent(&events[i]))
	}

	resolved, err := o.tracker.AutoResolveIfFixed(o.cfg.Hostname, detected)
	if err != nil {
		o.logger.Warn("Auto-resolve pass failed", "error", err)
	} else if resolved > 0 {
		o.logger.Info("Auto-resolved issues", "count", resolved)
	}
}

func issueTitle(description string) string {
	if len(description) > 80 {
		return description[:80]
	}
	return description
}

func summariseEvent(e *models.Event) string {
	if msg := e.PayloadString("message"); msg != "" {
		return msg
	}
	if desc := e.PayloadString("description"); desc != "" {
		return desc
	}
	return string(e.Kind)
}

// escalate hands the case to the meta layer and folds the analysis
// back into the context buffer. Per-reason debounce keeps a stuck
// condition from thrashing the large model.
func (o *Orchestrator) escalate(ctx context.Context, reason, window string) {
	o.mu.Lock()
	if last, seen := o.lastEscalation[reason]; seen && o.now().Sub(last) < escalationDebounce {
		o.mu.Unlock()
		o.logger.Info("Escalation debounced", "reason", reason)
		return
	}
	o.lastEscalation[reason] = o.now()
	o.metaInvocations++
	o.mu.Unlock()

	o.logger.Info("Escalating to meta layer", "reason", reason)
	telemetry.EscalationsTotal.Inc()

	record := o.meta.Analyze(ctx, reason, window)

	payload := map[string]any{"reason": record.Reason}
	severity := models.SeverityMedium
	if record.Error != "" {
		payload["error"] = record.Error
		severity = models.SeverityHigh
	} else {
		payload["analysis"] = record.Analysis
	}
	o.buffer.AddEvent(ctx, models.Event{
		Timestamp: record.Timestamp,
		Kind:      models.EventMetaAnalysis,
		Severity:  severity,
		Source:    models.SourceMeta,
		Payload:   payload,
	})

	message := record.Analysis
	if record.Error != "" {
		message = "analysis failed: " + record.Error
	}
	o.sendNotification(ctx, "Meta escalation on "+o.cfg.Hostname+": "+reason, message, "high")
}

// sendNotification delivers an operator alert. Delivery failure never
// disturbs the cycle.
func (o *Orchestrator) sendNotification(ctx context.Context, title, message, priority string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Send(ctx, title, message, priority); err != nil {
		o.logger.Warn("Notification delivery failed", "title", title, "error", err)
	}
}

// MetaInvocations reports how many escalations reached the meta layer.
func (o *Orchestrator) MetaInvocations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metaInvocations
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
