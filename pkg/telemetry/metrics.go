// Package telemetry exposes the agent's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed orchestration cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_cycles_total",
		Help: "Completed orchestration cycles by outcome.",
	}, []string{"outcome"})

	// EventsEmitted counts trigger events by kind and severity.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_trigger_events_total",
		Help: "Events emitted by the trigger layer.",
	}, []string{"kind", "severity"})

	// ReviewsTotal counts review passes by status.
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_reviews_total",
		Help: "Review-layer analysis passes by resulting status.",
	}, []string{"status"})

	// EscalationsTotal counts hand-offs to the meta layer.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_escalations_total",
		Help: "Escalations from the review layer to the meta layer.",
	})

	// ExecutionsTotal counts executor dispositions.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_executions_total",
		Help: "Proposals processed by the executor, by final status.",
	}, []string{"action_type", "status"})

	// ApprovalQueueDepth is the number of proposals awaiting consent.
	ApprovalQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_approval_queue_depth",
		Help: "Proposals currently awaiting operator approval.",
	})

	// ContextTokens is the context buffer's current token usage.
	ContextTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_context_tokens",
		Help: "Tokens currently held in the context buffer.",
	})

	// LLMRequestsTotal counts queued inference requests by terminal state.
	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_llm_requests_total",
		Help: "LLM queue requests by terminal state.",
	}, []string{"state"})
)
