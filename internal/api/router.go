package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/consultorio/clinic-scheduling/internal/ratelimit"
)

type RouterConfig struct {
	Turnos        TurnoService
	Agenda        AgendaService
	Conversations ConversationService
	Limiter       *ratelimit.Limiter
	RateLimitMode ratelimit.Mode
	Sender        Sender
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/turnos", func(r chi.Router) {
		r.Post("/", createTurnoHandler(cfg.Turnos))
		r.Get("/", listTurnosHandler(cfg.Turnos))
		r.Get("/{id}", getTurnoHandler(cfg.Turnos))
		r.Patch("/{id}", editTurnoHandler(cfg.Turnos))
		r.Delete("/{id}", deleteTurnoHandler(cfg.Turnos))
		r.Post("/{id}/state", transitionTurnoHandler(cfg.Turnos))
		r.Get("/{id}/history", turnoHistoryHandler(cfg.Turnos))
	})

	r.Get("/agenda", agendaHandler(cfg.Agenda))

	r.Post("/webhook/messages", inboundMessageHandler(cfg.Conversations, cfg.Limiter, cfg.RateLimitMode, cfg.Sender))
	r.Post("/conversations/{identity}/reset", resetConversationHandler(cfg.Conversations))

	return r
}
