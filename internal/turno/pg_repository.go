package turno

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgx.Tx satisfies it
// too, which is what lets WithTx rebind the repository to a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanTurno(row pgx.Row) (*Turno, error) {
	var t Turno
	err := row.Scan(
		&t.ID,
		&t.PatientID,
		&t.Date,
		&t.StartMin,
		&t.DurationMin,
		&t.Note,
		&t.State,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTurnoNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanTurnoDetails(rows pgx.Rows) ([]TurnoDetail, error) {
	defer rows.Close()

	var result []TurnoDetail
	for rows.Next() {
		var d TurnoDetail
		err := rows.Scan(
			&d.ID,
			&d.PatientID,
			&d.Date,
			&d.StartMin,
			&d.DurationMin,
			&d.Note,
			&d.State,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.PatientFirstName,
			&d.PatientLastName,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const turnoDetailColumns = `
	t.id, t.patient_id, t.date, t.start_min, t.duration_min, t.note, t.state,
	t.created_at, t.updated_at, p.first_name, p.last_name`

// Interface methods

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*PatientRef, error) {
	var p PatientRef
	err := r.db.QueryRow(ctx, `
		SELECT id, first_name, last_name
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetTurno(ctx context.Context, id uuid.UUID) (*Turno, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, date, start_min, duration_min, note, state, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanTurno(row)
}

func (r *PgRepository) ListDay(ctx context.Context, date time.Time) ([]TurnoDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+turnoDetailColumns+`
		FROM appointments t
		JOIN patients p ON p.id = t.patient_id
		WHERE t.date = $1
		ORDER BY t.start_min
	`, DateOnly(date))
	if err != nil {
		return nil, err
	}
	return scanTurnoDetails(rows)
}

func (r *PgRepository) ListRange(ctx context.Context, from, to time.Time) ([]TurnoDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+turnoDetailColumns+`
		FROM appointments t
		JOIN patients p ON p.id = t.patient_id
		WHERE t.date >= $1 AND t.date <= $2 AND t.state <> $3
		ORDER BY t.date, t.start_min
	`, DateOnly(from), DateOnly(to), StateCancelled)
	if err != nil {
		return nil, err
	}
	return scanTurnoDetails(rows)
}

func (r *PgRepository) ListActive(ctx context.Context) ([]Turno, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, patient_id, date, start_min, duration_min, note, state, created_at, updated_at
		FROM appointments
		WHERE state IN ($1, $2)
		ORDER BY date, start_min
	`, StatePending, StateConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Turno
	for rows.Next() {
		t, err := scanTurno(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateTurno(ctx context.Context, t *Turno) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, date, start_min, duration_min, note, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, patient_id, date, start_min, duration_min, note, state, created_at, updated_at
	`, t.ID, t.PatientID, DateOnly(t.Date), t.StartMin, t.DurationMin, t.Note, t.State)

	created, err := scanTurno(row)
	if err != nil {
		return fmt.Errorf("insert turno: %w", err)
	}
	*t = *created
	return nil
}

func (r *PgRepository) UpdateTurno(ctx context.Context, t *Turno) error {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_min = $3,
		    duration_min = $4,
		    note = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, patient_id, date, start_min, duration_min, note, state, created_at, updated_at
	`, t.ID, DateOnly(t.Date), t.StartMin, t.DurationMin, t.Note)

	updated, err := scanTurno(row)
	if err != nil {
		return err
	}
	*t = *updated
	return nil
}

func (r *PgRepository) UpdateTurnoState(ctx context.Context, id uuid.UUID, from, to State) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET state = $2,
		    updated_at = now()
		WHERE id = $1
		  AND state = $3
	`, id, to, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTurnoNotFound
	}
	return nil
}

func (r *PgRepository) DeleteTurno(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTurnoNotFound
	}
	return nil
}

func (r *PgRepository) InsertStateChange(ctx context.Context, sc StateChange) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO state_changes (id, appointment_id, prev_state, next_state, changed_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sc.ID, sc.TurnoID, sc.PrevState, sc.NextState, sc.ChangedAt, sc.Reason)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}
	return nil
}

func (r *PgRepository) ListStateChanges(ctx context.Context, turnoID uuid.UUID) ([]StateChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, appointment_id, prev_state, next_state, changed_at, reason
		FROM state_changes
		WHERE appointment_id = $1
		ORDER BY changed_at
	`, turnoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StateChange
	for rows.Next() {
		var sc StateChange
		if err := rows.Scan(&sc.ID, &sc.TurnoID, &sc.PrevState, &sc.NextState, &sc.ChangedAt, &sc.Reason); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
