package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/consultorio/clinic-scheduling/internal/agenda"
	"github.com/consultorio/clinic-scheduling/internal/conversation"
	"github.com/consultorio/clinic-scheduling/internal/metrics"
	"github.com/consultorio/clinic-scheduling/internal/ratelimit"
	redisclient "github.com/consultorio/clinic-scheduling/internal/redis"
	"github.com/consultorio/clinic-scheduling/internal/turno"
)

const rateLimitedReply = "Demasiados mensajes. Esperá un momento antes de escribir de nuevo."

// TurnoService is the scheduling engine surface the handlers need.
type TurnoService interface {
	Create(ctx context.Context, p turno.CreateParams) (*turno.Turno, error)
	Edit(ctx context.Context, id uuid.UUID, p turno.EditParams) (*turno.Turno, error)
	Transition(ctx context.Context, id uuid.UUID, next turno.State, reason string) (*turno.Turno, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*turno.Turno, error)
	ListDay(ctx context.Context, date time.Time) ([]turno.TurnoDetail, error)
	History(ctx context.Context, id uuid.UUID) ([]turno.StateChange, error)
}

type AgendaService interface {
	Week(ctx context.Context, anchor time.Time) (agenda.Week, error)
}

type ConversationService interface {
	HandleMessage(ctx context.Context, identity, text string) (conversation.Reply, error)
	Reset(ctx context.Context, identity string) error
}

func createTurnoHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTurnoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		startMin, err := turno.ParseClock(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		t, err := svc.Create(r.Context(), turno.CreateParams{
			PatientID:   patientID,
			Date:        date,
			StartMin:    startMin,
			DurationMin: req.DurationMin,
			Note:        req.Note,
			State:       turno.State(req.State),
		})
		if err != nil {
			handleTurnoError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, newTurnoResponse(t))
	}
}

func listTurnosHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date query param must be YYYY-MM-DD")
			return
		}

		details, err := svc.ListDay(r.Context(), date)
		if err != nil {
			handleTurnoError(w, err)
			return
		}

		resp := make([]TurnoDetailResponse, 0, len(details))
		for i := range details {
			resp = append(resp, TurnoDetailResponse{
				TurnoResponse: newTurnoResponse(&details[i].Turno),
				PatientName:   details[i].PatientName(),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getTurnoHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_turno_id", "id must be a valid UUID")
			return
		}

		t, err := svc.Get(r.Context(), id)
		if err != nil {
			handleTurnoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTurnoResponse(t))
	}
}

func editTurnoHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_turno_id", "id must be a valid UUID")
			return
		}

		var req EditTurnoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var params turno.EditParams
		if req.Date != nil {
			date, err := time.Parse("2006-01-02", *req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			params.Date = &date
		}
		if req.Time != nil {
			startMin, err := turno.ParseClock(*req.Time)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
				return
			}
			params.StartMin = &startMin
		}
		params.DurationMin = req.DurationMin
		params.Note = req.Note

		t, err := svc.Edit(r.Context(), id, params)
		if err != nil {
			handleTurnoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTurnoResponse(t))
	}
}

func deleteTurnoHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_turno_id", "id must be a valid UUID")
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			handleTurnoError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func transitionTurnoHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_turno_id", "id must be a valid UUID")
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		t, err := svc.Transition(r.Context(), id, turno.State(req.State), req.Reason)
		if err != nil {
			handleTurnoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTurnoResponse(t))
	}
}

func turnoHistoryHandler(svc TurnoService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_turno_id", "id must be a valid UUID")
			return
		}

		changes, err := svc.History(r.Context(), id)
		if err != nil {
			handleTurnoError(w, err)
			return
		}

		resp := make([]StateChangeResponse, 0, len(changes))
		for _, sc := range changes {
			resp = append(resp, StateChangeResponse{
				ID:        sc.ID,
				PrevState: string(sc.PrevState),
				NextState: string(sc.NextState),
				ChangedAt: sc.ChangedAt.Format(time.RFC3339),
				Reason:    sc.Reason,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func agendaHandler(svc AgendaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		anchor := time.Now()
		if raw := r.URL.Query().Get("date"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date query param must be YYYY-MM-DD")
				return
			}
			anchor = parsed
		}

		week, err := svc.Week(r.Context(), anchor)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, week)
	}
}

// inboundMessageHandler is the inbound channel adapter edge: it receives one
// already-authenticated (identity, text) turn, runs the dialogue, and hands
// the reply to the outbound sender. Rate limiting is applied before or after
// processing depending on the configured mode.
func inboundMessageHandler(svc ConversationService, limiter *ratelimit.Limiter, mode ratelimit.Mode, sender Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InboundMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.ChannelIdentity == "" {
			writeError(w, http.StatusBadRequest, "missing_channel_identity", "channel_identity is required")
			return
		}

		if mode == ratelimit.ModeBefore {
			if !limiter.Allow(req.ChannelIdentity) {
				metrics.RateLimited.Inc()
				log.Printf("rate limit exceeded identity=%s", req.ChannelIdentity)
				writeJSON(w, http.StatusTooManyRequests, InboundMessageResponse{
					Reply: rateLimitedReply,
				})
				return
			}
		}

		reply, err := svc.HandleMessage(r.Context(), req.ChannelIdentity, req.Text)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		if mode == ratelimit.ModeAfter {
			// The original system only monitored here: the reply is already
			// computed, violations are counted and logged but not blocked.
			if !limiter.Allow(req.ChannelIdentity) {
				metrics.RateLimited.Inc()
				log.Printf("rate limit exceeded identity=%s (soft)", req.ChannelIdentity)
			}
		}

		if err := sender.Send(r.Context(), req.ChannelIdentity, reply.Message); err != nil {
			log.Printf("outbound send failed identity=%s: %v", req.ChannelIdentity, err)
		}

		writeJSON(w, http.StatusOK, InboundMessageResponse{
			Reply: reply.Message,
			Step:  string(reply.Step),
			Done:  reply.Done,
		})
	}
}

func resetConversationHandler(svc ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		if identity == "" {
			writeError(w, http.StatusBadRequest, "missing_channel_identity", "identity is required")
			return
		}
		if err := svc.Reset(r.Context(), identity); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleTurnoError(w http.ResponseWriter, err error) {
	var (
		conflict   *turno.ConflictError
		sameState  *turno.SameStateError
		finalState *turno.FinalStateError
		invalidTr  *turno.InvalidTransitionError
		pastDate   *turno.PastDateTransitionError
		notDelete  *turno.NotDeletableError
		invalidSt  *turno.InvalidStateError
		endsAfter  *turno.EndsAfterCloseError
	)

	switch {
	case errors.Is(err, turno.ErrTurnoNotFound):
		writeError(w, http.StatusNotFound, "turno_not_found", err.Error())
	case errors.Is(err, turno.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "turno_conflict", err.Error())
	case errors.As(err, &sameState):
		writeError(w, http.StatusConflict, "same_state", err.Error())
	case errors.As(err, &finalState):
		writeError(w, http.StatusConflict, "final_state", err.Error())
	case errors.As(err, &invalidTr):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.As(err, &pastDate):
		writeError(w, http.StatusConflict, "past_date_transition", err.Error())
	case errors.As(err, &notDelete):
		writeError(w, http.StatusConflict, "not_deletable", err.Error())
	case errors.As(err, &invalidSt):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.As(err, &endsAfter),
		errors.Is(err, turno.ErrPastDate),
		errors.Is(err, turno.ErrSunday),
		errors.Is(err, turno.ErrOutsideHours),
		errors.Is(err, turno.ErrInvalidDuration),
		errors.Is(err, turno.ErrPastTime):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "day_being_booked", "the agenda is being updated, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
