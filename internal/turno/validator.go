package turno

import (
	"time"

	"github.com/google/uuid"
)

// Working hours and duration bounds.
const (
	OpeningMin     = 8 * 60  // 08:00
	ClosingMin     = 21 * 60 // 21:00
	MinDurationMin = 5
	MaxDurationMin = 480
)

// ValidateSlot checks the static rules for a (date, start, duration) slot:
// not in the past, Monday-Saturday, inside working hours, sane duration, and
// not running past closing. Overlap checking is separate (FindConflicts) so
// the service can run it against a snapshot loaded inside the same
// transaction that performs the write.
func ValidateSlot(now, date time.Time, startMin, durationMin int) error {
	today := DateOnly(now)
	day := DateOnly(date)

	if day.Before(today) {
		return ErrPastDate
	}
	if day.Weekday() == time.Sunday {
		return ErrSunday
	}
	if startMin < OpeningMin || startMin >= ClosingMin {
		return ErrOutsideHours
	}
	if durationMin < MinDurationMin || durationMin > MaxDurationMin {
		return ErrInvalidDuration
	}
	if end := startMin + durationMin; end > ClosingMin {
		return &EndsAfterCloseError{EndMin: end}
	}
	if day.Equal(today) {
		nowMin := now.Hour()*60 + now.Minute()
		if startMin < nowMin {
			return ErrPastTime
		}
	}
	return nil
}

// FindConflicts returns a description of every same-day turno whose half-open
// interval [start, start+duration) intersects the candidate slot. Cancelled
// and missed turnos no longer block their slot. excludeID skips the turno
// being edited; pass uuid.Nil for creates.
func FindConflicts(startMin, durationMin int, sameDay []TurnoDetail, excludeID uuid.UUID) []string {
	endMin := startMin + durationMin

	var collisions []string
	for i := range sameDay {
		existing := &sameDay[i]
		if existing.ID == excludeID {
			continue
		}
		if !existing.State.blocksSlot() {
			continue
		}
		if startMin < existing.EndMin() && existing.StartMin < endMin {
			collisions = append(collisions,
				ClockString(existing.StartMin)+"-"+ClockString(existing.EndMin())+
					" ("+existing.PatientName()+")")
		}
	}
	return collisions
}
