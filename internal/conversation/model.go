package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Step is the current stage of the booking dialogue. Each step's handler
// only reads and writes the scratch fields that are valid at that step.
type Step string

const (
	StepAskID        Step = "ask_id"
	StepAskFirstName Step = "ask_first_name"
	StepAskLastName  Step = "ask_last_name"
	StepAskDate      Step = "ask_date"
	StepAskTime      Step = "ask_time"
	StepDone         Step = "done"
)

func (s Step) Valid() bool {
	switch s {
	case StepAskID, StepAskFirstName, StepAskLastName, StepAskDate, StepAskTime, StepDone:
		return true
	}
	return false
}

// Session is one per-channel-identity dialogue. Scratch fields are nullable
// and only meaningful at their step; PatientID is the single durable
// reference that outlives the dialogue.
type Session struct {
	ID              uuid.UUID
	ChannelIdentity string
	Step            Step

	PatientID *uuid.UUID

	ProposedIDNumber     *string
	TempFirstName        *string
	TempLastName         *string
	CandidateDate        *time.Time
	CandidateStartMin    *int
	CandidateDurationMin *int
	Note                 *string

	ExpiresAt         time.Time
	LastInteractionAt time.Time
	AttemptCount      int
	Confirmed         bool
}

// Reply is what the inbound channel adapter delivers back to the sender.
type Reply struct {
	Message string `json:"message"`
	Step    Step   `json:"step"`
	Done    bool   `json:"done"`
}

var ErrSessionNotFound = errors.New("conversation session not found")

type Repository interface {
	GetByIdentity(ctx context.Context, identity string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	DeleteByIdentity(ctx context.Context, identity string) error
	// PurgeExpired deletes every session whose expiration has passed and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
