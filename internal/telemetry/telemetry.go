// Package telemetry declares the governor's Prometheus metrics
// (component K): queue depth, breaker/limiter state, dispatch decisions,
// and quota usage.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of entries in the global priority queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_queue_depth",
		Help: "Current number of entries in the global priority queue",
	})

	// ParkedWorkCount tracks the number of parked (lock-blocked) entries.
	ParkedWorkCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_parked_work_count",
		Help: "Current number of parked work entries, by issue",
	}, []string{"issue_id"})

	// DispatchDecisions tracks dispatch outcomes by kind.
	DispatchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_dispatch_decisions_total",
		Help: "Total number of dispatch decisions made",
	}, []string{"decision"}) // dispatched, parked, dropped

	// ClaimOutcomes tracks claim attempts by outcome.
	ClaimOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_claim_outcomes_total",
		Help: "Total number of work-claim attempts by outcome",
	}, []string{"reason"}) // claimed, empty, expired, wrong_status, transient_failure

	// SessionTransitions tracks session status transitions.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_session_transitions_total",
		Help: "Total number of session status transitions",
	}, []string{"from", "to"})

	// CircuitState tracks the per-upstream-client breaker state (0=closed, 1=half-open, 2=open).
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_circuit_state",
		Help: "Circuit breaker state by client (0=closed, 1=half-open, 2=open)",
	}, []string{"client"})

	// RateLimitPenalties tracks penalize() calls (upstream 429s).
	RateLimitPenalties = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_rate_limit_penalties_total",
		Help: "Total number of rate-limit penalties applied",
	}, []string{"key"})

	// UpstreamRetries tracks retry attempts by reason.
	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_upstream_retries_total",
		Help: "Total number of upstream call retries",
	}, []string{"reason"}) // rate_limited, transient

	// EventProcessed tracks events processed by kind and outcome.
	EventProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_events_processed_total",
		Help: "Total number of events processed by the evaluator",
	}, []string{"kind", "outcome"}) // outcome: dispatched, dropped, parked, error

	// DuplicateEventsDropped tracks events dropped by the deduplicator.
	DuplicateEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_duplicate_events_dropped_total",
		Help: "Total number of events dropped as duplicates",
	}, []string{"kind"})

	// SweepOwner tracks which governor instance currently holds the sweep lease.
	SweepOwner = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_sweep_owner",
		Help: "1 if this process currently holds the poll-sweep lease, else 0",
	})

	// StaleClaimsReaped tracks sessions recovered by the stale-claim reaper.
	StaleClaimsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_stale_claims_reaped_total",
		Help: "Total number of stale claimed sessions recovered by the reaper",
	})

	// QuotaTotalCostUSD tracks cumulative recorded session cost, by project.
	QuotaTotalCostUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_quota_total_cost_usd",
		Help: "Cumulative recorded session cost in USD, by project",
	}, []string{"project"})

	// WorkerActiveSessions tracks currently claimed/running sessions per worker.
	WorkerActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_worker_active_sessions",
		Help: "Current number of active sessions per worker",
	}, []string{"worker_id"})
)
