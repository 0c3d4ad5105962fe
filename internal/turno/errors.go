package turno

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTurnoNotFound   = errors.New("turno not found")
	ErrPatientNotFound = errors.New("patient not found")
)

// Validation errors carry the Spanish messages shown to patients and staff.
var (
	ErrPastDate = errors.New("no se pueden agendar turnos en fechas pasadas")
	ErrSunday   = errors.New("los turnos solo se pueden agendar de lunes a sábado")
	ErrOutsideHours = fmt.Errorf(
		"los turnos solo se pueden agendar entre %s y %s",
		ClockString(OpeningMin), ClockString(ClosingMin),
	)
	ErrInvalidDuration = fmt.Errorf(
		"la duración debe estar entre %d y %d minutos",
		MinDurationMin, MaxDurationMin,
	)
	ErrPastTime = errors.New("no se pueden agendar turnos en horarios ya pasados")
)

// EndsAfterCloseError rejects a slot whose end would run past closing time.
type EndsAfterCloseError struct {
	EndMin int
}

func (e *EndsAfterCloseError) Error() string {
	return fmt.Sprintf(
		"el turno terminaría a las %s, después del horario de atención (%s)",
		ClockString(e.EndMin), ClockString(ClosingMin),
	)
}

// ConflictError enumerates every colliding turno, not just the first.
type ConflictError struct {
	Collisions []string // "HH:MM-HH:MM (First Last)"
}

func (e *ConflictError) Error() string {
	return "el turno se solapa con: " + strings.Join(e.Collisions, ", ")
}

type SameStateError struct {
	State State
}

func (e *SameStateError) Error() string {
	return fmt.Sprintf("el turno ya tiene el estado '%s'", e.State.Label())
}

type FinalStateError struct {
	State State
}

func (e *FinalStateError) Error() string {
	return fmt.Sprintf("el turno está en estado final '%s' y no admite cambios", e.State.Label())
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(transitions[e.From]))
	for _, s := range e.From.AllowedTransitions() {
		allowed = append(allowed, s.Label())
	}
	return fmt.Sprintf(
		"no se puede cambiar de '%s' a '%s' (permitidos: %s)",
		e.From.Label(), e.To.Label(), strings.Join(allowed, ", "),
	)
}

// PastDateTransitionError rejects moving a turno on a past date to anything
// other than Attended or Missed.
type PastDateTransitionError struct {
	To State
}

func (e *PastDateTransitionError) Error() string {
	return fmt.Sprintf(
		"los turnos de fechas pasadas solo pueden marcarse como 'Atendido' o 'NoAtendido', no como '%s'",
		e.To.Label(),
	)
}

type NotDeletableError struct {
	State State
}

func (e *NotDeletableError) Error() string {
	return fmt.Sprintf(
		"solo se pueden eliminar turnos en estado 'Pendiente', este turno está en '%s'",
		e.State.Label(),
	)
}

// InvalidStateError rejects an unknown state name at the boundary.
type InvalidStateError struct {
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("estado desconocido: '%s'", string(e.State))
}

// IsBusinessError reports whether err is a scheduling business-rule rejection
// safe to surface verbatim to a caller, as opposed to an infrastructure
// failure.
func IsBusinessError(err error) bool {
	if errors.Is(err, ErrTurnoNotFound) ||
		errors.Is(err, ErrPatientNotFound) ||
		errors.Is(err, ErrPastDate) ||
		errors.Is(err, ErrSunday) ||
		errors.Is(err, ErrOutsideHours) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrPastTime) {
		return true
	}
	var (
		endsAfter  *EndsAfterCloseError
		conflict   *ConflictError
		sameState  *SameStateError
		finalState *FinalStateError
		invalidTr  *InvalidTransitionError
		pastDate   *PastDateTransitionError
		notDelete  *NotDeletableError
		invalidSt  *InvalidStateError
	)
	return errors.As(err, &endsAfter) ||
		errors.As(err, &conflict) ||
		errors.As(err, &sameState) ||
		errors.As(err, &finalState) ||
		errors.As(err, &invalidTr) ||
		errors.As(err, &pastDate) ||
		errors.As(err, &notDelete) ||
		errors.As(err, &invalidSt)
}
