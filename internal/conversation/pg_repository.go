package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the session store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const sessionColumns = `
	id, channel_identity, step, patient_id, proposed_id_number,
	temp_first_name, temp_last_name, candidate_date, candidate_start_min,
	candidate_duration_min, note, expires_at, last_interaction_at,
	attempt_count, confirmed`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.ChannelIdentity,
		&s.Step,
		&s.PatientID,
		&s.ProposedIDNumber,
		&s.TempFirstName,
		&s.TempLastName,
		&s.CandidateDate,
		&s.CandidateStartMin,
		&s.CandidateDurationMin,
		&s.Note,
		&s.ExpiresAt,
		&s.LastInteractionAt,
		&s.AttemptCount,
		&s.Confirmed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) GetByIdentity(ctx context.Context, identity string) (*Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM conversation_sessions
		WHERE channel_identity = $1
	`, identity)
	return scanSession(row)
}

func (r *PgRepository) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversation_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		s.ID, s.ChannelIdentity, s.Step, s.PatientID, s.ProposedIDNumber,
		s.TempFirstName, s.TempLastName, s.CandidateDate, s.CandidateStartMin,
		s.CandidateDurationMin, s.Note, s.ExpiresAt, s.LastInteractionAt,
		s.AttemptCount, s.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, s *Session) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_sessions
		SET step = $2,
		    patient_id = $3,
		    proposed_id_number = $4,
		    temp_first_name = $5,
		    temp_last_name = $6,
		    candidate_date = $7,
		    candidate_start_min = $8,
		    candidate_duration_min = $9,
		    note = $10,
		    expires_at = $11,
		    last_interaction_at = $12,
		    attempt_count = $13,
		    confirmed = $14
		WHERE id = $1
	`,
		s.ID, s.Step, s.PatientID, s.ProposedIDNumber,
		s.TempFirstName, s.TempLastName, s.CandidateDate, s.CandidateStartMin,
		s.CandidateDurationMin, s.Note, s.ExpiresAt, s.LastInteractionAt,
		s.AttemptCount, s.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PgRepository) DeleteByIdentity(ctx context.Context, identity string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM conversation_sessions
		WHERE channel_identity = $1
	`, identity)
	return err
}

func (r *PgRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM conversation_sessions
		WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
