// Package metrics exposes the process-wide Prometheus collectors. Counters
// are registered on the default registry and served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnosCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_turnos_created_total",
		Help: "Turnos created, by initial state.",
	}, []string{"state"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_state_transitions_total",
		Help: "Successful turno state transitions, by destination state.",
	}, []string{"to"})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_sweep_runs_total",
		Help: "Expiration sweep executions.",
	})

	SweptMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_swept_missed_total",
		Help: "Overdue turnos driven to the missed state by the sweeper.",
	})

	SessionsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_sessions_purged_total",
		Help: "Expired conversation sessions deleted by the sweeper.",
	})

	ConversationTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_conversation_turns_total",
		Help: "Inbound conversation turns, by resulting dialogue step.",
	}, []string{"step"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_rate_limited_total",
		Help: "Inbound turns that exceeded the per-identity rate limit.",
	})
)
