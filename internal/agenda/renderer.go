// Package agenda projects a week of turnos into percentage-based time-grid
// coordinates for display. It is read-only and never mutates state.
package agenda

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/consultorio/clinic-scheduling/internal/turno"
)

// Visible window: 08:00-21:00, 780 minutes.
const (
	WindowStartMin = turno.OpeningMin
	WindowEndMin   = turno.ClosingMin
	WindowMin      = WindowEndMin - WindowStartMin
)

var dayNames = [6]string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

// Block is one turno positioned on the grid. TopPct and HeightPct are
// percentages of the visible window; Truncated marks a block whose real end
// runs past closing time.
type Block struct {
	TurnoID     uuid.UUID    `json:"turno_id"`
	PatientName string       `json:"patient_name"`
	State       turno.State  `json:"state"`
	StartMin    int          `json:"start_min"`
	EndMin      int          `json:"end_min"`
	DurationMin int          `json:"duration_minutes"`
	Note        *string      `json:"note,omitempty"`
	TopPct      float64      `json:"top_pct"`
	HeightPct   float64      `json:"height_pct"`
	Truncated   bool         `json:"truncated"`
}

type Day struct {
	Name   string    `json:"name"`
	Date   time.Time `json:"date"`
	Blocks []Block   `json:"blocks"`
}

// Gridline is one hourly marker on the grid.
type Gridline struct {
	Pct   float64 `json:"pct"`
	Label string  `json:"label"`
}

type Week struct {
	Monday     time.Time  `json:"monday"`
	Saturday   time.Time  `json:"saturday"`
	PrevMonday time.Time  `json:"prev_monday"`
	NextMonday time.Time  `json:"next_monday"`
	Days       [6]Day     `json:"days"`
	Gridlines  []Gridline `json:"gridlines"`
}

// MondayOf normalizes any date to that week's Monday.
func MondayOf(date time.Time) time.Time {
	d := turno.DateOnly(date)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// RenderWeek builds the six Monday-Saturday day buckets for the week
// containing anchor. Callers pass the week's turnos (cancelled ones already
// excluded by the store); anything falling on a Sunday is skipped.
func RenderWeek(anchor time.Time, turnos []turno.TurnoDetail) Week {
	monday := MondayOf(anchor)

	w := Week{
		Monday:     monday,
		Saturday:   monday.AddDate(0, 0, 5),
		PrevMonday: monday.AddDate(0, 0, -7),
		NextMonday: monday.AddDate(0, 0, 7),
		Gridlines:  gridlines(),
	}
	for i := range w.Days {
		w.Days[i] = Day{
			Name:   dayNames[i],
			Date:   monday.AddDate(0, 0, i),
			Blocks: []Block{},
		}
	}

	for i := range turnos {
		t := &turnos[i]
		dayIdx := (int(turno.DateOnly(t.Date).Weekday()) + 6) % 7
		if dayIdx >= 6 {
			continue
		}
		w.Days[dayIdx].Blocks = append(w.Days[dayIdx].Blocks, renderBlock(t))
	}
	return w
}

func renderBlock(t *turno.TurnoDetail) Block {
	offset := t.StartMin - WindowStartMin
	if offset < 0 {
		offset = 0
	}
	if offset > WindowMin {
		offset = WindowMin
	}

	effective := t.DurationMin
	truncated := offset+t.DurationMin > WindowMin
	if truncated {
		effective = WindowMin - offset
	}

	return Block{
		TurnoID:     t.ID,
		PatientName: t.PatientName(),
		State:       t.State,
		StartMin:    t.StartMin,
		EndMin:      t.EndMin(),
		DurationMin: t.DurationMin,
		Note:        t.Note,
		TopPct:      round2(float64(offset) / WindowMin * 100),
		HeightPct:   round2(float64(effective) / WindowMin * 100),
		Truncated:   truncated,
	}
}

func gridlines() []Gridline {
	var lines []Gridline
	for min := WindowStartMin; min <= WindowEndMin; min += 60 {
		lines = append(lines, Gridline{
			Pct:   round2(float64(min-WindowStartMin) / WindowMin * 100),
			Label: turno.ClockString(min),
		})
	}
	return lines
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
