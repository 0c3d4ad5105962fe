package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consultorio/clinic-scheduling/internal/metrics"
	"github.com/consultorio/clinic-scheduling/internal/patient"
	"github.com/consultorio/clinic-scheduling/internal/turno"
)

const (
	DefaultSessionTTL = 30 * time.Minute
	minIDDigits       = 6
)

// User-facing prompts, kept in Spanish for the clinic's patients.
const (
	msgNeedID         = "Necesito el DNI para continuar (6+ dígitos)."
	msgFoundRecord    = "Encontré tu ficha. Indicá la fecha (YYYY-MM-DD)."
	msgNoRecord       = "No encontré tu ficha. Decime tu nombre para registrarte."
	msgNeedFirstName  = "Necesito tu nombre."
	msgAskLastName    = "Gracias. Ahora tu apellido."
	msgNeedLastName   = "Necesito tu apellido."
	msgRegistered     = "Te registré. Indicá la fecha del turno (YYYY-MM-DD)."
	msgAskTime        = "Anotado. Indicá la hora (HH:MM)."
	msgBadDate        = "Formato inválido. Usá YYYY-MM-DD."
	msgBadTime        = "Formato inválido. Usá HH:MM."
	msgBooked         = "Turno solicitado en estado Pendiente. La doctora confirmará el horario."
	msgFallback       = "No entendí. Podés enviar tu DNI para comenzar."
	msgRegisterFailed = "No pude registrarte: %s"
	msgBookingFailed  = "No pude agendar: %s"
)

// Scheduler is the slice of the scheduling engine the dialogue needs.
type Scheduler interface {
	Create(ctx context.Context, p turno.CreateParams) (*turno.Turno, error)
}

// Service runs the per-identity booking dialogue. Its only non-trivial side
// effect is the single scheduling-engine call at the end of a completed
// dialogue; every business error keeps the session on its current step.
type Service struct {
	sessions  Repository
	patients  patient.Directory
	scheduler Scheduler
	ttl       time.Duration
	now       func() time.Time
}

func NewService(sessions Repository, patients patient.Directory, scheduler Scheduler, ttl time.Duration, now func() time.Time) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		sessions:  sessions,
		patients:  patients,
		scheduler: scheduler,
		ttl:       ttl,
		now:       now,
	}
}

// HandleMessage processes one inbound text turn for the given channel
// identity. It always refreshes the session's last-interaction timestamp and
// slides its expiration, whatever the outcome of the turn.
func (s *Service) HandleMessage(ctx context.Context, identity, text string) (Reply, error) {
	sess, err := s.getOrCreate(ctx, identity)
	if err != nil {
		return Reply{}, err
	}

	now := s.now()
	sess.LastInteractionAt = now
	sess.ExpiresAt = now.Add(s.ttl)

	reply, err := s.step(ctx, sess, strings.TrimSpace(text))
	if err != nil {
		return Reply{}, err
	}

	if err := s.sessions.Update(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}

	metrics.ConversationTurns.WithLabelValues(string(reply.Step)).Inc()
	return reply, nil
}

func (s *Service) step(ctx context.Context, sess *Session, message string) (Reply, error) {
	switch sess.Step {
	case StepAskID:
		return s.stepAskID(ctx, sess, message)
	case StepAskFirstName:
		return s.stepAskFirstName(sess, message)
	case StepAskLastName:
		return s.stepAskLastName(ctx, sess, message)
	case StepAskDate:
		return s.stepAskDate(sess, message)
	case StepAskTime:
		return s.stepAskTime(ctx, sess, message)
	}
	// Unknown or finished step: generic clarification, step unchanged.
	return Reply{Message: msgFallback, Step: sess.Step, Done: sess.Step == StepDone}, nil
}

func (s *Service) stepAskID(ctx context.Context, sess *Session, message string) (Reply, error) {
	digits := extractDigits(message)
	if len(digits) < minIDDigits {
		sess.AttemptCount++
		return Reply{Message: msgNeedID, Step: sess.Step}, nil
	}
	sess.ProposedIDNumber = &digits

	p, err := s.patients.FindByIDNumber(ctx, digits)
	switch {
	case err == nil:
		sess.PatientID = &p.ID
		sess.Step = StepAskDate
		return Reply{Message: msgFoundRecord, Step: sess.Step}, nil
	case errors.Is(err, patient.ErrNotFound):
		sess.Step = StepAskFirstName
		return Reply{Message: msgNoRecord, Step: sess.Step}, nil
	default:
		return Reply{}, fmt.Errorf("find patient: %w", err)
	}
}

func (s *Service) stepAskFirstName(sess *Session, message string) (Reply, error) {
	if message == "" {
		sess.AttemptCount++
		return Reply{Message: msgNeedFirstName, Step: sess.Step}, nil
	}
	sess.TempFirstName = &message
	sess.Step = StepAskLastName
	return Reply{Message: msgAskLastName, Step: sess.Step}, nil
}

func (s *Service) stepAskLastName(ctx context.Context, sess *Session, message string) (Reply, error) {
	if message == "" {
		sess.AttemptCount++
		return Reply{Message: msgNeedLastName, Step: sess.Step}, nil
	}
	sess.TempLastName = &message

	if sess.TempFirstName == nil || sess.ProposedIDNumber == nil {
		// Scratch fields lost; restart the registration leg.
		sess.Step = StepAskFirstName
		return Reply{Message: msgNeedFirstName, Step: sess.Step}, nil
	}

	p, err := s.patients.CreateMinimal(ctx, *sess.TempFirstName, *sess.TempLastName, *sess.ProposedIDNumber, nil)
	if err != nil {
		if patient.IsBusinessError(err) {
			sess.AttemptCount++
			return Reply{Message: fmt.Sprintf(msgRegisterFailed, err.Error()), Step: sess.Step}, nil
		}
		return Reply{}, fmt.Errorf("create patient: %w", err)
	}

	sess.PatientID = &p.ID
	sess.Step = StepAskDate
	return Reply{Message: msgRegistered, Step: sess.Step}, nil
}

func (s *Service) stepAskDate(sess *Session, message string) (Reply, error) {
	date, err := time.Parse("2006-01-02", message)
	if err != nil {
		sess.AttemptCount++
		return Reply{Message: msgBadDate, Step: sess.Step}, nil
	}
	d := turno.DateOnly(date)
	sess.CandidateDate = &d
	sess.Step = StepAskTime
	return Reply{Message: msgAskTime, Step: sess.Step}, nil
}

func (s *Service) stepAskTime(ctx context.Context, sess *Session, message string) (Reply, error) {
	startMin, err := turno.ParseClock(message)
	if err != nil {
		sess.AttemptCount++
		return Reply{Message: msgBadTime, Step: sess.Step}, nil
	}
	sess.CandidateStartMin = &startMin

	if sess.PatientID == nil || sess.CandidateDate == nil {
		sess.Step = StepAskID
		return Reply{Message: msgFallback, Step: sess.Step}, nil
	}

	durationMin := turno.DefaultDurationMin
	if sess.CandidateDurationMin != nil {
		durationMin = *sess.CandidateDurationMin
	}

	// Chat bookings are never auto-confirmed.
	_, err = s.scheduler.Create(ctx, turno.CreateParams{
		PatientID:   *sess.PatientID,
		Date:        *sess.CandidateDate,
		StartMin:    startMin,
		DurationMin: durationMin,
		Note:        sess.Note,
		State:       turno.StatePending,
	})
	if err != nil {
		if turno.IsBusinessError(err) {
			sess.AttemptCount++
			return Reply{Message: fmt.Sprintf(msgBookingFailed, err.Error()), Step: sess.Step}, nil
		}
		return Reply{}, fmt.Errorf("create turno: %w", err)
	}

	sess.Step = StepDone
	sess.Confirmed = false
	return Reply{Message: msgBooked, Step: sess.Step, Done: true}, nil
}

// Reset deletes the session for an identity so the next message restarts the
// dialogue at ask_id. Support and testing use.
func (s *Service) Reset(ctx context.Context, identity string) error {
	return s.sessions.DeleteByIdentity(ctx, identity)
}

func (s *Service) getOrCreate(ctx context.Context, identity string) (*Session, error) {
	sess, err := s.sessions.GetByIdentity(ctx, identity)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := s.now()
	sess = &Session{
		ChannelIdentity:   identity,
		Step:              StepAskID,
		ExpiresAt:         now.Add(s.ttl),
		LastInteractionAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func extractDigits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
