package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the directory needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgDirectory struct {
	db DB
}

func NewPgDirectory(db DB) *PgDirectory {
	return &PgDirectory{db: db}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.IDNumber,
		&p.Phone,
		&p.BirthDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (d *PgDirectory) FindByIDNumber(ctx context.Context, idNumber string) (*Patient, error) {
	row := d.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, id_number, phone, birth_date, created_at, updated_at
		FROM patients
		WHERE id_number = $1
	`, NormalizeIDNumber(idNumber))
	return scanPatient(row)
}

func (d *PgDirectory) CreateMinimal(ctx context.Context, first, last, idNumber string, phone *string) (*Patient, error) {
	idNumber = NormalizeIDNumber(idNumber)
	if err := validateMinimal(first, last, idNumber); err != nil {
		return nil, err
	}

	row := d.db.QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, id_number, phone, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, first_name, last_name, id_number, phone, birth_date, created_at, updated_at
	`, uuid.New(), strings.TrimSpace(first), strings.TrimSpace(last), idNumber, phone, PlaceholderBirthDate)

	p, err := scanPatient(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, &DuplicateError{IDNumber: idNumber}
		}
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return p, nil
}
