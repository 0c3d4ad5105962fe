package turno

import (
	"context"
	"log"
	"time"

	"github.com/consultorio/clinic-scheduling/internal/metrics"
)

const sweepReason = "Turno vencido sin asistencia"

// SessionPurger deletes expired conversation sessions. Declared here so the
// sweeper does not depend on the conversation package.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper is the timer-driven batch job that drives overdue turnos to the
// missed state through the state machine and purges expired sessions. It
// runs outside any request context.
type Sweeper struct {
	svc      *Service
	sessions SessionPurger
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(svc *Service, sessions SessionPurger, interval time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		svc:      svc,
		sessions: sessions,
		interval: interval,
		now:      now,
	}
}

// Run executes one sweep immediately and then on every tick until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full sweep. Failures on individual records are logged
// and skipped; the batch always completes. With no new overdue turnos a run
// performs zero writes.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := time.Now()
	metrics.SweepRuns.Inc()

	missed := s.sweepOverdue(ctx)
	purged := s.purgeSessions(ctx)

	log.Printf("sweep complete missed=%d sessions_purged=%d duration=%s",
		missed, purged, time.Since(start))
}

func (s *Sweeper) sweepOverdue(ctx context.Context) int {
	active, err := s.svc.repo.ListActive(ctx)
	if err != nil {
		log.Printf("sweep: list active turnos: %v", err)
		return 0
	}

	missed := 0
	for i := range active {
		t := &active[i]
		if !s.overdue(t) {
			continue
		}
		if _, err := s.svc.Transition(ctx, t.ID, StateMissed, sweepReason); err != nil {
			log.Printf("sweep: turno %s to missed: %v", t.ID, err)
			continue
		}
		metrics.SweptMissed.Inc()
		missed++
	}
	return missed
}

// overdue reports whether the turno's scheduled start has already passed:
// its date is before today, or it is today's and the start time is behind
// wall-clock now.
func (s *Sweeper) overdue(t *Turno) bool {
	now := s.now()
	today := DateOnly(now)
	day := DateOnly(t.Date)

	if day.Before(today) {
		return true
	}
	if day.Equal(today) {
		nowMin := now.Hour()*60 + now.Minute()
		return t.StartMin < nowMin
	}
	return false
}

func (s *Sweeper) purgeSessions(ctx context.Context) int {
	if s.sessions == nil {
		return 0
	}
	purged, err := s.sessions.PurgeExpired(ctx, s.now())
	if err != nil {
		log.Printf("sweep: purge sessions: %v", err)
		return 0
	}
	if purged > 0 {
		metrics.SessionsPurged.Add(float64(purged))
	}
	return purged
}
