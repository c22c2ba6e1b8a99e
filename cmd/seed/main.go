package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	facilities := getInt("SEED_FACILITIES", 2)
	doctors := getInt("SEED_DOCTORS", 10)
	patients := getInt("SEED_PATIENTS", 2000)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	facilityIDs, err := seedFacilities(ctx, pool, facilities)
	if err != nil {
		logger.Fatal("seed facilities", zap.Error(err))
	}
	doctorIDs, err := seedDoctors(ctx, pool, doctors)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedAffiliations(ctx, pool, doctorIDs, facilityIDs, cfg.DefaultSlotDuration); err != nil {
		logger.Fatal("seed affiliations", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, patients); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete",
		zap.Int("facilities", len(facilityIDs)),
		zap.Int("doctors", len(doctorIDs)),
		zap.Int("patients", patients),
	)

	// Tokens for trying the API by hand.
	v := auth.NewVerifier(cfg.JWTSecret)
	sample := []auth.Actor{
		{ID: doctorIDs[0], Role: auth.RoleDoctor},
		{ID: uuid.New(), Role: auth.RoleStaff, FacilityID: facilityIDs[0]},
		{ID: uuid.New(), Role: auth.RoleFacilityAdmin, FacilityID: facilityIDs[0]},
	}
	for _, a := range sample {
		tok, err := v.Sign(a, 24*time.Hour)
		if err != nil {
			logger.Fatal("sign token", zap.Error(err))
		}
		fmt.Printf("%-15s id=%s facility=%s\n  %s\n", a.Role, a.ID, facilityIDs[0], tok)
	}
}

func seedFacilities(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := lo.Times(count, func(int) uuid.UUID { return uuid.New() })

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`
			INSERT INTO facilities (id, name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, gofakeit.Company()+" Clinic")
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := lo.Times(count, func(int) uuid.UUID { return uuid.New() })

	batch := &pgx.Batch{}
	for _, id := range ids {
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		batch.Queue(`
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+gofakeit.Name(), spec)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

// workWeek is Monday to Saturday with a lunch break.
func workWeek() ([]affiliation.WeeklyEntry, error) {
	morning, err := clockRange("09:00", "13:00")
	if err != nil {
		return nil, err
	}
	afternoon, err := clockRange("14:00", "18:00")
	if err != nil {
		return nil, err
	}

	var week []affiliation.WeeklyEntry
	for day := time.Monday; day <= time.Saturday; day++ {
		week = append(week, affiliation.WeeklyEntry{
			Day:    day,
			Ranges: []affiliation.TimeRange{morning, afternoon},
		})
	}
	return week, nil
}

func clockRange(start, end string) (affiliation.TimeRange, error) {
	s, err := affiliation.ParseClock(start)
	if err != nil {
		return affiliation.TimeRange{}, err
	}
	e, err := affiliation.ParseClock(end)
	if err != nil {
		return affiliation.TimeRange{}, err
	}
	return affiliation.TimeRange{Start: s, End: e}, nil
}

// seedAffiliations approves every doctor at every facility.
func seedAffiliations(ctx context.Context, pool *pgxpool.Pool, doctorIDs, facilityIDs []uuid.UUID, slotDuration int) error {
	week, err := workWeek()
	if err != nil {
		return err
	}
	weekly, err := json.Marshal(week)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		for _, facilityID := range facilityIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO affiliations (id, doctor_id, facility_id, status, requested_by,
				                          weekly_schedule, date_overrides, slot_duration, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, '[]', $7, now(), now())
				ON CONFLICT DO NOTHING
			`, uuid.New(), doctorID, facilityID, affiliation.StatusApproved, affiliation.PartyDoctor, weekly, slotDuration)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			dob := gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, phone, email, gender, date_of_birth, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, now(), now())
				ON CONFLICT DO NOTHING
			`, uuid.New(), gofakeit.Name(), gofakeit.Phone(), gofakeit.Email(), gofakeit.Gender(), dob)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
