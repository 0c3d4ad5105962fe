package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/consultorio/clinic-scheduling/internal/config"
	"github.com/consultorio/clinic-scheduling/internal/conversation"
	"github.com/consultorio/clinic-scheduling/internal/db"
	redisclient "github.com/consultorio/clinic-scheduling/internal/redis"
	"github.com/consultorio/clinic-scheduling/internal/turno"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("sweeper-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running sweeper in env=%s interval=%s", cfg.Env, cfg.SweepInterval)

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
	svc := turno.NewService(repo, locker, time.Now)
	sessions := conversation.NewPgRepository(pgPool)

	sweeper := turno.NewSweeper(svc, sessions, cfg.SweepInterval, time.Now)
	sweeper.Run(rootCtx)

	log.Println("sweeper-worker stopped")
}
