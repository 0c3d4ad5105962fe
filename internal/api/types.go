package api

import (
	"github.com/google/uuid"

	"github.com/consultorio/clinic-scheduling/internal/turno"
)

type CreateTurnoRequest struct {
	PatientID   string  `json:"patient_id"`
	Date        string  `json:"date"` // YYYY-MM-DD
	Time        string  `json:"time"` // HH:MM
	DurationMin int     `json:"duration_minutes,omitempty"`
	Note        *string `json:"note,omitempty"`
	State       string  `json:"state,omitempty"` // confirmed (default) or pending
}

type EditTurnoRequest struct {
	Date        *string `json:"date,omitempty"`
	Time        *string `json:"time,omitempty"`
	DurationMin *int    `json:"duration_minutes,omitempty"`
	Note        *string `json:"note,omitempty"`
}

type TransitionRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type TurnoResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	EndTime     string    `json:"end_time"`
	DurationMin int       `json:"duration_minutes"`
	Note        *string   `json:"note,omitempty"`
	State       string    `json:"state"`
}

func newTurnoResponse(t *turno.Turno) TurnoResponse {
	return TurnoResponse{
		ID:          t.ID,
		PatientID:   t.PatientID,
		Date:        t.Date.Format("2006-01-02"),
		Time:        turno.ClockString(t.StartMin),
		EndTime:     turno.ClockString(t.EndMin()),
		DurationMin: t.DurationMin,
		Note:        t.Note,
		State:       string(t.State),
	}
}

type TurnoDetailResponse struct {
	TurnoResponse
	PatientName string `json:"patient_name"`
}

type StateChangeResponse struct {
	ID        uuid.UUID `json:"id"`
	PrevState string    `json:"prev_state"`
	NextState string    `json:"next_state"`
	ChangedAt string    `json:"changed_at"`
	Reason    string    `json:"reason"`
}

type InboundMessageRequest struct {
	ChannelIdentity string `json:"channel_identity"`
	Text            string `json:"text"`
}

type InboundMessageResponse struct {
	Reply string `json:"reply"`
	Step  string `json:"step"`
	Done  bool   `json:"done"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
