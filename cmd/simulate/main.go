package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	Days             int // booking window starting tomorrow; small windows force collisions
	BookingRatio     float64
	StatusRatio      float64
	RescheduleRatio  float64
	ReadRatio        float64
	PatientLimit     int
	PostgresDSN      string
	PostgresMaxConns int32
	Timezone         *time.Location
}

type DataPool struct {
	Doctors      []uuid.UUID
	Patients     []uuid.UUID
	Dates        []time.Time
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking    OperationMetrics
	Status     OperationMetrics
	Reschedule OperationMetrics
	DayList    OperationMetrics
	Slots      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	cfg := loadConfig()
	logger := logging.New(os.Getenv("LOG_LEVEL"), true)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("days", cfg.Days).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("doctors", len(dataPool.Doctors)).Int("patients", len(dataPool.Patients)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	violations, err := sim.VerifyNoDoubleBooking(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("verify")
	}
	if violations > 0 {
		logger.Error().Int("violations", violations).Msg("double booking detected")
		os.Exit(1)
	}
	logger.Info().Msg("no slot holds more than one active appointment")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         getDuration("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		Days:             getInt("SIM_DAYS", 2),
		BookingRatio:     getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:      getFloat("SIM_STATUS_RATIO", 0.1),
		RescheduleRatio:  getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		ReadRatio:        getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:     getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:      baseCfg.PostgresDSN,
		PostgresMaxConns: baseCfg.PostgresMaxConns,
		Timezone:         baseCfg.ClinicTimezone,
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	doctors, err := loadIDs(ctx, pool, `SELECT id FROM users WHERE role = 'doctor'`)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	today := clock.Today(clock.System(), cfg.Timezone)
	dates := make([]time.Time, cfg.Days)
	for i := range dates {
		dates[i] = today.AddDate(0, 0, i+1)
	}

	return &DataPool{Doctors: doctors, Patients: patients, Dates: dates}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.StatusRatio:
			s.doStatus(ctx, rng)
		case r < c.BookingRatio+c.StatusRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doDayList(ctx, rng)
			} else {
				s.doSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) (uuid.UUID, string, string) {
	times := slot.DefaultGrid().Times()
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	return doctor, slot.FormatDate(date), times[rng.Intn(len(times))].String()
}

// send issues one JSON request and classifies the outcome.
func (s *Simulator) send(ctx context.Context, method, path string, body any, okStatus int, out any) (ok, conflict bool) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return false, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == okStatus {
		if out != nil {
			_ = json.NewDecoder(resp.Body).Decode(out)
		}
		return true, false
	}
	return false, resp.StatusCode == http.StatusConflict
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctor, date, at := s.randomSlot(rng)
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	ok, conflict := s.send(ctx, http.MethodPost, "/appointments", map[string]string{
		"patient_id": patient.String(),
		"doctor_id":  doctor.String(),
		"date":       date,
		"time":       at,
		"treatment":  "Check-up",
	}, http.StatusCreated, &created)
	s.metrics.Booking.Record(time.Since(start), ok, conflict)

	if ok && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
}

func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	id, found := s.pool.GetRandomAppointment(rng)
	if !found {
		return
	}
	to := "cancelled"
	if rng.Intn(2) == 0 {
		to = "completed"
	}

	start := time.Now()
	ok, conflict := s.send(ctx, http.MethodPatch, "/appointments/"+id.String()+"/status",
		map[string]string{"status": to}, http.StatusOK, nil)
	s.metrics.Status.Record(time.Since(start), ok, conflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, found := s.pool.GetRandomAppointment(rng)
	if !found {
		return
	}
	_, date, at := s.randomSlot(rng)

	start := time.Now()
	ok, conflict := s.send(ctx, http.MethodPatch, "/appointments/"+id.String()+"/schedule",
		map[string]string{"date": date, "time": at}, http.StatusOK, nil)
	s.metrics.Reschedule.Record(time.Since(start), ok, conflict)
}

func (s *Simulator) doDayList(ctx context.Context, rng *rand.Rand) {
	_, date, _ := s.randomSlot(rng)

	start := time.Now()
	ok, _ := s.send(ctx, http.MethodGet, "/appointments?date="+date, nil, http.StatusOK, nil)
	s.metrics.DayList.Record(time.Since(start), ok, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	doctor, date, _ := s.randomSlot(rng)

	start := time.Now()
	ok, _ := s.send(ctx, http.MethodGet, "/slots?doctor_id="+doctor.String()+"&date="+date, nil, http.StatusOK, nil)
	s.metrics.Slots.Record(time.Since(start), ok, false)
}

// VerifyNoDoubleBooking reads back every simulated day through the API and
// counts (doctor, date, time) keys held by more than one active appointment.
func (s *Simulator) VerifyNoDoubleBooking(ctx context.Context) (int, error) {
	violations := 0
	for _, d := range s.pool.Dates {
		var page struct {
			Appointments []struct {
				DoctorID uuid.UUID `json:"doctor_id"`
				Date     string    `json:"date"`
				Time     string    `json:"time"`
				Status   string    `json:"status"`
			} `json:"appointments"`
		}
		if ok, _ := s.send(ctx, http.MethodGet, "/appointments?date="+slot.FormatDate(d), nil, http.StatusOK, &page); !ok {
			return 0, fmt.Errorf("list appointments for %s failed", slot.FormatDate(d))
		}

		held := make(map[string]int)
		for _, a := range page.Appointments {
			if a.Status == "cancelled" {
				continue
			}
			key := a.DoctorID.String() + ":" + a.Date + ":" + a.Time
			held[key]++
			if held[key] == 2 {
				violations++
				s.log.Error().Str("slot", key).Msg("slot held twice")
			}
		}
	}
	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.Status)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Day calendar", &s.metrics.DayList)
	printOperationReport("Slot grid", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
