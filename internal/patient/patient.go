// Package patient is the patient-directory collaborator consumed by the
// scheduling core. It owns lookup by national id number and the minimal
// registration path used by chat bookings.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

// PlaceholderBirthDate is used when registration happens over chat, which
// collects no birth date.
var PlaceholderBirthDate = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	IDNumber  string
	Phone     *string
	BirthDate time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DuplicateError is raised when the id number is already registered.
type DuplicateError struct {
	IDNumber string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ya existe un paciente con DNI %s", e.IDNumber)
}

// InvalidDataError rejects malformed registration data.
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string {
	return e.Reason
}

// IsBusinessError reports whether err is a typed directory rejection safe to
// surface to a caller.
func IsBusinessError(err error) bool {
	var (
		dup     *DuplicateError
		invalid *InvalidDataError
	)
	return errors.Is(err, ErrNotFound) || errors.As(err, &dup) || errors.As(err, &invalid)
}

// Directory is the patient directory as seen by the scheduling core.
type Directory interface {
	FindByIDNumber(ctx context.Context, idNumber string) (*Patient, error)
	CreateMinimal(ctx context.Context, first, last, idNumber string, phone *string) (*Patient, error)
}

// NormalizeIDNumber strips separators from a national id number.
func NormalizeIDNumber(idNumber string) string {
	s := strings.TrimSpace(idNumber)
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, "-", "")
}

// validateMinimal applies the registration rules: non-empty names and a
// 5-10 digit id number (nationals use 8, foreign documents 5-9).
func validateMinimal(first, last, idNumber string) error {
	if strings.TrimSpace(first) == "" {
		return &InvalidDataError{Reason: "el nombre es requerido"}
	}
	if strings.TrimSpace(last) == "" {
		return &InvalidDataError{Reason: "el apellido es requerido"}
	}
	if idNumber == "" {
		return &InvalidDataError{Reason: "el DNI es requerido"}
	}
	for _, c := range idNumber {
		if c < '0' || c > '9' {
			return &InvalidDataError{Reason: "el DNI debe contener solo dígitos"}
		}
	}
	if len(idNumber) < 5 || len(idNumber) > 10 {
		return &InvalidDataError{Reason: "el DNI debe tener entre 5 y 10 dígitos"}
	}
	return nil
}
