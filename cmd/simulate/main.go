package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	Concurrency int
	SearchDays  int
	PostgresDSN string
	JWTSecret   string
	Location    *time.Location
}

// DataPool is one approved doctor/facility pair and enough patients to
// drive it.
type DataPool struct {
	DoctorID   uuid.UUID
	FacilityID uuid.UUID
	Patients   []uuid.UUID
	// TokensToday is the highest token already issued today for the pair.
	TokensToday int
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, fastest, slowest, p50, p95 time.Duration) {
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
	fastest = latencies[0]
	slowest = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, fastest, slowest, p50, p95
}

type Metrics struct {
	RaceBooking OperationMetrics
	Booking     OperationMetrics
	CheckIn     OperationMetrics
}

type Simulator struct {
	config   SimConfig
	pool     *DataPool
	client   *http.Client
	verifier *auth.Verifier
	logger   *zap.Logger
	metrics  Metrics
}

type slot struct {
	Time time.Time `json:"time"`
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}
	logger, err := baseCfg.NewLogger()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Concurrency: getInt("SIM_CONCURRENCY", 20),
		SearchDays:  getInt("SIM_SEARCH_DAYS", 14),
		PostgresDSN: baseCfg.PostgresDSN,
		JWTSecret:   baseCfg.JWTSecret,
		Location:    baseCfg.Location,
	}
	if cfg.Concurrency < 2 {
		logger.Fatal("SIM_CONCURRENCY must be at least 2")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	cancel()
	pgPool.Close()
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}

	logger.Info("loaded data pool",
		zap.String("doctor_id", dataPool.DoctorID.String()),
		zap.String("facility_id", dataPool.FacilityID.String()),
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("tokens_today", dataPool.TokensToday),
	)

	sim := &Simulator{
		config:   cfg,
		pool:     dataPool,
		client:   &http.Client{Timeout: 10 * time.Second},
		verifier: auth.NewVerifier(cfg.JWTSecret),
		logger:   logger,
	}

	runCtx, stop := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stop()

	raceErr := sim.RunBookingRace(runCtx)
	checkInErr := sim.RunCheckInRace(runCtx)

	sim.PrintReport()

	if err := errors.Join(raceErr, checkInErr); err != nil {
		stop()
		logger.Error("simulation failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("simulation passed")
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	err := pool.QueryRow(ctx, `
		SELECT doctor_id, facility_id FROM affiliations
		WHERE status = 'APPROVED'
		ORDER BY created_at
		LIMIT 1
	`).Scan(&dataPool.DoctorID, &dataPool.FacilityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New("no approved affiliation; run cmd/seed first")
	}
	if err != nil {
		return nil, fmt.Errorf("load affiliation: %w", err)
	}

	// Each booking needs its own patient so the check-in race has N visits.
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, 2*cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Patients, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if len(dataPool.Patients) < 2*cfg.Concurrency {
		return nil, fmt.Errorf("need %d patients, found %d", 2*cfg.Concurrency, len(dataPool.Patients))
	}

	y, m, d := time.Now().In(cfg.Location).Date()
	tokenDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	err = pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) FROM appointments
		WHERE doctor_id = $1 AND facility_id = $2 AND token_date = $3
	`, dataPool.DoctorID, dataPool.FacilityID, tokenDate).Scan(&dataPool.TokensToday)
	if err != nil {
		return nil, fmt.Errorf("load today's tokens: %w", err)
	}

	return dataPool, nil
}

func (s *Simulator) token(actor auth.Actor) string {
	tok, err := s.verifier.Sign(actor, time.Hour)
	if err != nil {
		s.logger.Fatal("sign token", zap.Error(err))
	}
	return tok
}

func (s *Simulator) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// findSlots walks forward from tomorrow until it has n open slot starts.
func (s *Simulator) findSlots(ctx context.Context, n int) ([]time.Time, error) {
	tok := s.token(auth.Actor{ID: s.pool.Patients[0], Role: auth.RolePatient})
	start := time.Now().In(s.config.Location).AddDate(0, 0, 1)

	var found []time.Time
	for i := 0; i < s.config.SearchDays && len(found) < n; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		path := fmt.Sprintf("/api/v1/slots?doctor_id=%s&facility_id=%s&date=%s", s.pool.DoctorID, s.pool.FacilityID, date)

		var resp struct {
			AvailableSlots []slot `json:"available_slots"`
		}
		status, err := s.do(ctx, http.MethodGet, path, tok, nil, &resp)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("list slots for %s: status %d", date, status)
		}
		found = append(found, lo.Map(resp.AvailableSlots, func(sl slot, _ int) time.Time { return sl.Time })...)
	}

	if len(found) < n {
		return nil, fmt.Errorf("found %d open slots in %d days, need %d", len(found), s.config.SearchDays, n)
	}
	return found[:n], nil
}

func (s *Simulator) book(ctx context.Context, patientID uuid.UUID, at time.Time, om *OperationMetrics) (uuid.UUID, int, error) {
	tok := s.token(auth.Actor{ID: patientID, Role: auth.RolePatient})
	body := map[string]any{
		"doctor_id":      s.pool.DoctorID,
		"facility_id":    s.pool.FacilityID,
		"scheduled_time": at,
		"reason":         "simulation",
	}

	var resp struct {
		ID uuid.UUID `json:"appointment_id"`
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/api/v1/appointments", tok, body, &resp)
	om.Record(time.Since(start), status, err)
	return resp.ID, status, err
}

// RunBookingRace fires Concurrency bookings of one instant from distinct
// patients. Exactly one may succeed.
func (s *Simulator) RunBookingRace(ctx context.Context) error {
	found, err := s.findSlots(ctx, 1)
	if err != nil {
		return fmt.Errorf("booking race: %w", err)
	}
	target := found[0]
	s.logger.Info("booking race", zap.Time("slot", target), zap.Int("concurrency", s.config.Concurrency))

	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < s.config.Concurrency; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-release
			_, _, _ = s.book(ctx, patientID, target, &s.metrics.RaceBooking)
		}(s.pool.Patients[i])
	}
	close(release)
	wg.Wait()

	om := &s.metrics.RaceBooking
	if om.Success != 1 || om.Conflict != int64(s.config.Concurrency-1) {
		return fmt.Errorf("booking race: %d succeeded, %d conflicted, %d errored; want exactly one success",
			om.Success, om.Conflict, om.Error)
	}
	return nil
}

// RunCheckInRace books Concurrency distinct slots, checks them all in at
// once, and verifies the tokens are consecutive with no gaps or repeats.
func (s *Simulator) RunCheckInRace(ctx context.Context) error {
	n := s.config.Concurrency
	// Skip the race slot.
	found, err := s.findSlots(ctx, n+1)
	if err != nil {
		return fmt.Errorf("check-in race: %w", err)
	}

	patients := s.pool.Patients[n:]
	ids := make([]uuid.UUID, 0, n)
	for i, at := range found[1:] {
		id, status, err := s.book(ctx, patients[i], at, &s.metrics.Booking)
		if err != nil || status != http.StatusCreated {
			return fmt.Errorf("check-in race: book %s: status %d: %v", at, status, err)
		}
		ids = append(ids, id)
	}

	staff := s.token(auth.Actor{ID: uuid.New(), Role: auth.RoleStaff, FacilityID: s.pool.FacilityID})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tokens  []int
		release = make(chan struct{})
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			<-release

			var resp struct {
				TokenNumber int `json:"token_number"`
			}
			start := time.Now()
			status, err := s.do(ctx, http.MethodPost, "/api/v1/appointments/"+id.String()+"/check-in", staff, nil, &resp)
			s.metrics.CheckIn.Record(time.Since(start), status, err)
			if err == nil && status == http.StatusOK {
				mu.Lock()
				tokens = append(tokens, resp.TokenNumber)
				mu.Unlock()
			}
		}(id)
	}
	close(release)
	wg.Wait()

	// A lost lock race is a retryable 409; those visits simply have no token.
	return verifyTokens(tokens, s.pool.TokensToday)
}

// verifyTokens checks that tokens are exactly base+1..base+len(tokens).
func verifyTokens(tokens []int, base int) error {
	if len(tokens) == 0 {
		return errors.New("check-in race: no check-in succeeded")
	}
	sorted := append([]int(nil), tokens...)
	sort.Ints(sorted)
	for i, tok := range sorted {
		if want := base + i + 1; tok != want {
			return fmt.Errorf("check-in race: tokens %v are not %d..%d", sorted, base+1, base+len(sorted))
		}
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Concurrency: %d\n", s.config.Concurrency)
	fmt.Printf("Doctor: %s  Facility: %s\n", s.pool.DoctorID, s.pool.FacilityID)
	fmt.Println()

	printOperationReport("Booking race (same slot)", &s.metrics.RaceBooking)
	printOperationReport("Booking (distinct slots)", &s.metrics.Booking)
	printOperationReport("Check-in race", &s.metrics.CheckIn)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, fastest, slowest, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), fastest.Round(time.Millisecond), slowest.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
