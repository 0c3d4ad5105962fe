package turno

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateAttended  State = "attended"
	StateMissed    State = "missed"
	StateCancelled State = "cancelled"
)

// transitions is the lifecycle matrix. A state with no entries is terminal.
var transitions = map[State][]State{
	StatePending:   {StateConfirmed, StateCancelled, StateMissed},
	StateConfirmed: {StateAttended, StateMissed, StateCancelled},
	StateAttended:  {},
	StateMissed:    {},
	StateCancelled: {},
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s State) Terminal() bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the outgoing edges for s.
func (s State) AllowedTransitions() []State {
	allowed := transitions[s]
	out := make([]State, len(allowed))
	copy(out, allowed)
	return out
}

// Label is the user-facing Spanish name for a state. Replies and audit
// reasons are shown to patients and staff in Spanish.
func (s State) Label() string {
	switch s {
	case StatePending:
		return "Pendiente"
	case StateConfirmed:
		return "Confirmado"
	case StateAttended:
		return "Atendido"
	case StateMissed:
		return "NoAtendido"
	case StateCancelled:
		return "Cancelado"
	}
	return string(s)
}

// blocksSlot reports whether a turno in this state still occupies its time
// interval for conflict purposes.
func (s State) blocksSlot() bool {
	return s != StateCancelled && s != StateMissed
}

type Turno struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	Date        time.Time // calendar date, midnight UTC
	StartMin    int       // minutes since midnight
	DurationMin int
	Note        *string
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Turno) EndMin() int {
	return t.StartMin + t.DurationMin
}

// StateChange is one append-only audit row. Rows are written exclusively by
// the state machine and never updated or deleted.
type StateChange struct {
	ID        uuid.UUID
	TurnoID   uuid.UUID
	PrevState State
	NextState State
	ChangedAt time.Time
	Reason    string
}

// TurnoDetail joins a turno with the patient names needed for display and
// conflict messages.
type TurnoDetail struct {
	Turno
	PatientFirstName string
	PatientLastName  string
}

func (d *TurnoDetail) PatientName() string {
	return d.PatientFirstName + " " + d.PatientLastName
}

// PatientRef is the minimal patient projection the scheduling engine needs.
type PatientRef struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
}

// ClockString formats minutes since midnight as HH:MM.
func ClockString(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// ParseClock parses HH:MM into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
