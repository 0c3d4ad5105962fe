package turno

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the scheduling engine.
type Repository interface {
	// WithTx runs fn against a repository bound to a single transaction,
	// committing on nil and rolling back on error. Validate-then-write
	// sequences must run inside one transaction so a concurrent sweep and a
	// concurrent edit cannot both see a slot as free.
	WithTx(ctx context.Context, fn func(Repository) error) error

	GetPatient(ctx context.Context, id uuid.UUID) (*PatientRef, error)

	GetTurno(ctx context.Context, id uuid.UUID) (*Turno, error)
	// ListDay returns every turno on a calendar date, any state, joined with
	// patient names.
	ListDay(ctx context.Context, date time.Time) ([]TurnoDetail, error)
	// ListRange returns turnos in [from, to] excluding cancelled ones,
	// ordered by date then start time. Used by the agenda projection.
	ListRange(ctx context.Context, from, to time.Time) ([]TurnoDetail, error)
	// ListActive returns every turno in a non-terminal state.
	ListActive(ctx context.Context) ([]Turno, error)

	CreateTurno(ctx context.Context, t *Turno) error
	UpdateTurno(ctx context.Context, t *Turno) error
	// UpdateTurnoState is a compare-and-set: it only moves id from "from" to
	// "to" and reports ErrTurnoNotFound when no row matched.
	UpdateTurnoState(ctx context.Context, id uuid.UUID, from, to State) error
	DeleteTurno(ctx context.Context, id uuid.UUID) error

	InsertStateChange(ctx context.Context, sc StateChange) error
	ListStateChanges(ctx context.Context, turnoID uuid.UUID) ([]StateChange, error)
}
