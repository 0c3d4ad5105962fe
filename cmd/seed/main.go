package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consultorio/clinic-scheduling/internal/db"
	"github.com/consultorio/clinic-scheduling/internal/turno"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	patientIDs, err := seedPatients(context.Background(), pool, 200)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedTurnos(context.Background(), pool, patientIDs, 300); err != nil {
		log.Fatalf("seed turnos: %v", err)
	}

	log.Println("seed complete")
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		first := gofakeit.FirstName()
		last := gofakeit.LastName()
		// DNI-style number, unique enough for a seed run
		idNumber := fmt.Sprintf("%d%04d", gofakeit.Number(10000, 99999), i)
		phone := gofakeit.Phone()
		birth := gofakeit.DateRange(
			time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC),
		)

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, first_name, last_name, id_number, phone, birth_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, id, first, last, idNumber, phone, birth)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("patients seeded")
	return ids, nil
}

type interval struct{ start, end int }

func overlapsAny(taken []interval, start, end int) bool {
	for _, iv := range taken {
		if start < iv.end && iv.start < end {
			return true
		}
	}
	return false
}

func seedTurnos(ctx context.Context, pool *pgxpool.Pool, patientIDs []uuid.UUID, count int) error {
	log.Printf("seeding %d turnos", count)

	states := []turno.State{turno.StatePending, turno.StateConfirmed, turno.StateAttended, turno.StateMissed}
	durations := []int{15, 30, 45, 60}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	booked := make(map[string][]interval)

	today := turno.DateOnly(time.Now().UTC())
	for i := 0; i < count; i++ {
		id := uuid.New()
		patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]

		// Spread over four weeks around today, skipping Sundays.
		date := today.AddDate(0, 0, gofakeit.Number(-14, 14))
		if date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}

		duration := durations[gofakeit.Number(0, len(durations)-1)]
		// Slots on a 15-minute grid inside opening hours.
		maxStart := (turno.ClosingMin - duration) / 15
		startMin := gofakeit.Number(turno.OpeningMin/15, maxStart) * 15

		day := date.Format("2006-01-02")
		if overlapsAny(booked[day], startMin, startMin+duration) {
			continue
		}
		booked[day] = append(booked[day], interval{startMin, startMin + duration})

		state := states[gofakeit.Number(0, len(states)-1)]
		if !date.Before(today) && (state == turno.StateAttended || state == turno.StateMissed) {
			state = turno.StateConfirmed
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, date, start_min, duration_min, note, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULL, $6, now(), now())
		`, id, patientID, date, startMin, duration, state)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("turnos seeded")
	return nil
}
