package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/consultorio/clinic-scheduling/internal/agenda"
	"github.com/consultorio/clinic-scheduling/internal/api"
	"github.com/consultorio/clinic-scheduling/internal/config"
	"github.com/consultorio/clinic-scheduling/internal/conversation"
	"github.com/consultorio/clinic-scheduling/internal/db"
	"github.com/consultorio/clinic-scheduling/internal/patient"
	"github.com/consultorio/clinic-scheduling/internal/ratelimit"
	redisclient "github.com/consultorio/clinic-scheduling/internal/redis"
	"github.com/consultorio/clinic-scheduling/internal/turno"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s rate_limit_mode=%s", cfg.Env, cfg.HTTPPort, cfg.RateLimitMode)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := turno.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDayLocker(rdb, cfg.LockTTL)
	turnos := turno.NewService(repo, locker, time.Now)

	agendaSvc := agenda.NewService(repo)

	sessions := conversation.NewPgRepository(pgPool)
	patients := patient.NewPgDirectory(pgPool)
	conversations := conversation.NewService(sessions, patients, turnos, cfg.SessionTTL, time.Now)

	limiter := ratelimit.New(cfg.RateLimitPerMin, time.Now)
	go limiter.RunCleanup(rootCtx, time.Minute)

	router := api.NewRouter(api.RouterConfig{
		Turnos:        turnos,
		Agenda:        agendaSvc,
		Conversations: conversations,
		Limiter:       limiter,
		RateLimitMode: cfg.RateLimitMode,
		Sender:        api.LogSender{},
		PgPool:        pgPool,
		Redis:         rdb,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	log.Println("api-server stopped")
}
