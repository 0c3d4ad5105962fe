package turno

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consultorio/clinic-scheduling/internal/metrics"
	redisclient "github.com/consultorio/clinic-scheduling/internal/redis"
)

const DefaultDurationMin = 30

// Service is the scheduling engine: availability validation, the lifecycle
// state machine and its audit trail.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:   repo,
		locker: locker,
		now:    now,
	}
}

type CreateParams struct {
	PatientID   uuid.UUID
	Date        time.Time
	StartMin    int
	DurationMin int
	Note        *string
	// State is the initial state: Confirmed for staff bookings (the default),
	// Pending for chat-originated ones. Everything else is rejected.
	State State
}

// Create validates the slot and books it. The overlap check re-runs inside
// the same transaction that inserts the row, under the per-day lock, so two
// concurrent requests for overlapping slots cannot both succeed.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Turno, error) {
	if p.DurationMin == 0 {
		p.DurationMin = DefaultDurationMin
	}
	if p.State == "" {
		p.State = StateConfirmed
	}
	if p.State != StatePending && p.State != StateConfirmed {
		return nil, &InvalidStateError{State: p.State}
	}

	if _, err := s.repo.GetPatient(ctx, p.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if err := ValidateSlot(s.now(), p.Date, p.StartMin, p.DurationMin); err != nil {
		return nil, err
	}

	t := &Turno{
		ID:          uuid.New(),
		PatientID:   p.PatientID,
		Date:        DateOnly(p.Date),
		StartMin:    p.StartMin,
		DurationMin: p.DurationMin,
		Note:        p.Note,
		State:       p.State,
	}

	err := s.locker.WithDayLock(ctx, t.Date, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(r Repository) error {
			sameDay, err := r.ListDay(lockCtx, t.Date)
			if err != nil {
				return fmt.Errorf("load day turnos: %w", err)
			}
			if collisions := FindConflicts(t.StartMin, t.DurationMin, sameDay, uuid.Nil); len(collisions) > 0 {
				return &ConflictError{Collisions: collisions}
			}
			return r.CreateTurno(lockCtx, t)
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.TurnosCreated.WithLabelValues(string(t.State)).Inc()
	return t, nil
}

type EditParams struct {
	Date        *time.Time
	StartMin    *int
	DurationMin *int
	Note        *string
}

// Edit reschedules a turno. Only pending and confirmed turnos can move; when
// the slot changes, the full availability validation re-runs excluding the
// turno's own id.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, p EditParams) (*Turno, error) {
	t, err := s.repo.GetTurno(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State != StatePending && t.State != StateConfirmed {
		return nil, &FinalStateError{State: t.State}
	}

	slotChanged := false
	if p.Date != nil {
		t.Date = DateOnly(*p.Date)
		slotChanged = true
	}
	if p.StartMin != nil {
		t.StartMin = *p.StartMin
		slotChanged = true
	}
	if p.DurationMin != nil {
		t.DurationMin = *p.DurationMin
		slotChanged = true
	}
	if p.Note != nil {
		t.Note = p.Note
	}

	if !slotChanged {
		if err := s.repo.UpdateTurno(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	}

	if err := ValidateSlot(s.now(), t.Date, t.StartMin, t.DurationMin); err != nil {
		return nil, err
	}

	err = s.locker.WithDayLock(ctx, t.Date, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(r Repository) error {
			sameDay, err := r.ListDay(lockCtx, t.Date)
			if err != nil {
				return fmt.Errorf("load day turnos: %w", err)
			}
			if collisions := FindConflicts(t.StartMin, t.DurationMin, sameDay, t.ID); len(collisions) > 0 {
				return &ConflictError{Collisions: collisions}
			}
			return r.UpdateTurno(lockCtx, t)
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Transition drives a turno through the lifecycle matrix and appends exactly
// one audit row. Turnos on past dates may only move to Attended or Missed.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, next State, reason string) (*Turno, error) {
	if !next.Valid() {
		return nil, &InvalidStateError{State: next}
	}

	var result *Turno
	err := s.repo.WithTx(ctx, func(r Repository) error {
		t, err := r.GetTurno(ctx, id)
		if err != nil {
			return err
		}

		if t.State == next {
			return &SameStateError{State: t.State}
		}
		if t.State.Terminal() {
			return &FinalStateError{State: t.State}
		}
		if !t.State.CanTransitionTo(next) {
			return &InvalidTransitionError{From: t.State, To: next}
		}
		if DateOnly(t.Date).Before(DateOnly(s.now())) {
			if next != StateAttended && next != StateMissed {
				return &PastDateTransitionError{To: next}
			}
		}

		if err := r.UpdateTurnoState(ctx, t.ID, t.State, next); err != nil {
			return err
		}

		if reason == "" {
			reason = "Cambio a " + next.Label()
		}
		sc := StateChange{
			ID:        uuid.New(),
			TurnoID:   t.ID,
			PrevState: t.State,
			NextState: next,
			ChangedAt: s.now(),
			Reason:    reason,
		}
		if err := r.InsertStateChange(ctx, sc); err != nil {
			return err
		}

		t.State = next
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StateTransitions.WithLabelValues(string(next)).Inc()
	return result, nil
}

// Delete removes a turno. Only pending turnos may be hard-deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.WithTx(ctx, func(r Repository) error {
		t, err := r.GetTurno(ctx, id)
		if err != nil {
			return err
		}
		if t.State != StatePending {
			return &NotDeletableError{State: t.State}
		}
		return r.DeleteTurno(ctx, id)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Turno, error) {
	return s.repo.GetTurno(ctx, id)
}

func (s *Service) ListDay(ctx context.Context, date time.Time) ([]TurnoDetail, error) {
	return s.repo.ListDay(ctx, date)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]StateChange, error) {
	if _, err := s.repo.GetTurno(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListStateChanges(ctx, id)
}
