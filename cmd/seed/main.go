package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

var treatments = []string{
	"Cleaning",
	"Filling",
	"Root canal",
	"Extraction",
	"Crown fitting",
	"Whitening",
	"Check-up",
	"Scaling",
}

// milestone ages make the next reminder run produce follow-ups; the others
// exercise the exact-day rule.
var treatmentAges = []int{30, 60, 90, 29, 31, 45, 120}

func main() {
	doctors := flag.Int("doctors", 6, "number of doctors")
	patients := flag.Int("patients", 500, "number of patients")
	tomorrowAppts := flag.Int("appointments", 20, "appointments to book for tomorrow")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	s := &seeder{
		pool:  pool,
		log:   logger,
		today: clock.Today(clock.System(), cfg.ClinicTimezone),
	}

	doctorIDs, err := s.seedStaff(ctx, *doctors)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed staff")
	}
	patientIDs, err := s.seedPatients(ctx, *patients)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := s.seedTreatments(ctx, doctorIDs, patientIDs); err != nil {
		logger.Fatal().Err(err).Msg("seed treatment logs")
	}
	if err := s.seedTomorrow(ctx, doctorIDs, patientIDs, *tomorrowAppts); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

type seeder struct {
	pool  *pgxpool.Pool
	log   zerolog.Logger
	today time.Time
}

func (s *seeder) seedStaff(ctx context.Context, doctors int) ([]uuid.UUID, error) {
	s.log.Info().Int("doctors", doctors).Msg("seeding staff")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	insert := func(role string, name string) (uuid.UUID, error) {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, full_name, email, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, gofakeit.Email(), role)
		return id, err
	}

	var ids []uuid.UUID
	for i := 0; i < doctors; i++ {
		id, err := insert("doctor", "Dr. "+gofakeit.LastName())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if _, err := insert("receptionist", gofakeit.Name()); err != nil {
		return nil, err
	}
	if _, err := insert("admin", gofakeit.Name()); err != nil {
		return nil, err
	}

	return ids, tx.Commit(ctx)
}

func (s *seeder) seedPatients(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info().Int("patients", count).Msg("seeding patients")

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			ids = append(ids, id)
			batch.Queue(`
				INSERT INTO patients (id, full_name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, err
		}

		s.log.Debug().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return ids, nil
}

func (s *seeder) seedTreatments(ctx context.Context, doctors, patients []uuid.UUID) error {
	if len(doctors) == 0 {
		return nil
	}
	n := min(len(patients), len(treatmentAges)*4)
	s.log.Info().Int("entries", n).Msg("seeding treatment logs")

	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		age := treatmentAges[i%len(treatmentAges)]
		tooth := gofakeit.Numerify("##")
		batch.Queue(`
			INSERT INTO treatment_logs (id, patient_id, doctor_id, date, treatment, tooth, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
		`, uuid.New(), patients[i], doctors[gofakeit.Number(0, len(doctors)-1)],
			s.today.AddDate(0, 0, -age), gofakeit.RandomString(treatments), tooth)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// seedTomorrow books distinct slots so the partial unique index never fires.
func (s *seeder) seedTomorrow(ctx context.Context, doctors, patients []uuid.UUID, count int) error {
	if len(doctors) == 0 || len(patients) == 0 {
		return nil
	}
	tomorrow := s.today.AddDate(0, 0, 1)
	times := slot.DefaultGrid().Times()
	count = min(count, len(doctors)*len(times))
	s.log.Info().Int("appointments", count).Str("date", slot.FormatDate(tomorrow)).Msg("seeding appointments")

	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		doctor := doctors[i%len(doctors)]
		at := times[i/len(doctors)]
		batch.Queue(`
			INSERT INTO appointments (id, patient_id, doctor_id, date, time, treatment, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', now(), now())
		`, uuid.New(), patients[gofakeit.Number(0, len(patients)-1)], doctor, tomorrow, at.String(),
			gofakeit.RandomString(treatments))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}
