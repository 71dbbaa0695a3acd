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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	Patients        int
	Days            int
	StartDate       time.Time
}

type DataPool struct {
	Patients     []string
	Dates        []time.Time
	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record counts 2xx as success, 4xx as a business rejection and anything else
// (including transport errors, status 0) as an error.
func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	idx := func(pct int) int {
		i := len(latencies) * pct / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1],
		latencies[idx(50)], latencies[idx(95)]
}

type Metrics struct {
	Book          OperationMetrics
	Emergency     OperationMetrics
	Reschedule    OperationMetrics
	Cancel        OperationMetrics
	Slots         OperationMetrics
	ListByPatient OperationMetrics
	ListByRange   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	cfg, err := loadConfig()
	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("service", "simulate").Logger()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("book", cfg.BookingRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   newDataPool(cfg),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := sim.VerifyNoOverlaps(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("verification failed")
	}
	if overlaps > 0 {
		logger.Error().Int("overlaps", overlaps).Msg("double bookings detected")
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping scheduled appointments")
}

func loadConfig() (SimConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", 30*time.Second)
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_BOOKING_RATIO", 0.45)
	v.SetDefault("SIM_RESCHEDULE_RATIO", 0.15)
	v.SetDefault("SIM_CANCEL_RATIO", 0.1)
	v.SetDefault("SIM_READ_RATIO", 0.3)
	v.SetDefault("SIM_PATIENTS", 500)
	v.SetDefault("SIM_DAYS", 5)
	v.SetDefault("SIM_START_DATE", "")

	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:        v.GetDuration("SIM_DURATION"),
		Workers:         v.GetInt("SIM_WORKERS"),
		BookingRatio:    v.GetFloat64("SIM_BOOKING_RATIO"),
		RescheduleRatio: v.GetFloat64("SIM_RESCHEDULE_RATIO"),
		CancelRatio:     v.GetFloat64("SIM_CANCEL_RATIO"),
		ReadRatio:       v.GetFloat64("SIM_READ_RATIO"),
		Patients:        v.GetInt("SIM_PATIENTS"),
		Days:            v.GetInt("SIM_DAYS"),
		StartDate:       booking.DateOf(booking.WallClock(time.Now())).AddDate(0, 0, 1),
	}

	if raw := v.GetString("SIM_START_DATE"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_START_DATE: %w", err)
		}
		cfg.StartDate = d
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Days <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_PATIENTS and SIM_DAYS must be > 0")
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return SimConfig{}, fmt.Errorf("operation ratios must sum to a positive value")
	}
	cfg.BookingRatio /= total
	cfg.RescheduleRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total

	return cfg, nil
}

func newDataPool(cfg SimConfig) *DataPool {
	dp := &DataPool{}
	for i := 0; i < cfg.Patients; i++ {
		dp.Patients = append(dp.Patients, gofakeit.UUID())
	}
	for d := cfg.StartDate; len(dp.Dates) < cfg.Days; d = d.AddDate(0, 0, 1) {
		if booking.IsBusinessDay(d) {
			dp.Dates = append(dp.Dates, d)
		}
	}
	return dp
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

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

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			if rng.Intn(10) == 0 {
				s.doEmergency(ctx, rng)
			} else {
				s.doBook(ctx, rng)
			}
		case r < c.BookingRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doSlots(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doListByRange(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomDate(rng *rand.Rand) time.Time {
	return s.pool.Dates[rng.Intn(len(s.pool.Dates))]
}

// randomStart lands on a quarter hour so concurrent workers collide often.
func (s *Simulator) randomStart(rng *rand.Rand) time.Time {
	opens, _ := booking.BusinessDay(s.randomDate(rng))
	return opens.Add(time.Duration(rng.Intn((booking.CloseHour-booking.OpenHour)*4)) * 15 * time.Minute)
}

func (s *Simulator) randomPatient(rng *rand.Rand) string {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	start := s.randomStart(rng).Format(api.WireTime)
	categories := []string{string(booking.CategoryCleaning), string(booking.CategoryGeneralCheckup)}

	s.book(ctx, &s.metrics.Book, api.BookAppointmentRequest{
		PatientID:       s.randomPatient(rng),
		Category:        categories[rng.Intn(len(categories))],
		StartTime:       &start,
		DurationMinutes: []int{30, 45, 60}[rng.Intn(3)],
	})
}

func (s *Simulator) doEmergency(ctx context.Context, rng *rand.Rand) {
	date := s.randomDate(rng).Format(time.DateOnly)
	s.book(ctx, &s.metrics.Emergency, api.BookAppointmentRequest{
		PatientID:  s.randomPatient(rng),
		Category:   string(booking.CategoryEmergency),
		TargetDate: &date,
	})
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, req api.BookAppointmentRequest) {
	var created api.AppointmentResponse
	status, latency := s.call(ctx, http.MethodPost, "/appointments", req, &created)
	if status == http.StatusCreated && created.ID != "" {
		s.pool.AddAppointment(created.ID)
	}
	om.Record(latency, status)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body := api.RescheduleRequest{StartTime: s.randomStart(rng).Format(api.WireTime)}
	status, latency := s.call(ctx, http.MethodPost, "/appointments/"+id+"/reschedule", body, nil)
	s.metrics.Reschedule.Record(latency, status)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.call(ctx, http.MethodPost, "/appointments/"+id+"/cancel", nil, nil)
	s.metrics.Cancel.Record(latency, status)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	path := fmt.Sprintf("/slots?date=%s&duration=%d", s.randomDate(rng).Format(time.DateOnly), []int{30, 45, 60}[rng.Intn(3)])
	status, latency := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.Slots.Record(latency, status)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	status, latency := s.call(ctx, http.MethodGet, "/patients/"+s.randomPatient(rng)+"/appointments", nil, nil)
	s.metrics.ListByPatient.Record(latency, status)
}

func (s *Simulator) doListByRange(ctx context.Context, rng *rand.Rand) {
	day := s.randomDate(rng)
	path := fmt.Sprintf("/appointments?from=%s&to=%s", day.Format(api.WireTime), day.AddDate(0, 0, 1).Format(api.WireTime))
	status, latency := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.ListByRange.Record(latency, status)
}

// call returns status 0 for transport errors, including the run deadline.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

// VerifyNoOverlaps reads back every simulated day and counts overlapping
// scheduled pairs.
func (s *Simulator) VerifyNoOverlaps(ctx context.Context) (int, error) {
	overlaps := 0
	for _, day := range s.pool.Dates {
		path := fmt.Sprintf("/appointments?from=%s&to=%s", day.Format(api.WireTime), day.AddDate(0, 0, 1).Format(api.WireTime))

		var list api.AppointmentListResponse
		status, _ := s.call(ctx, http.MethodGet, path, nil, &list)
		if status != http.StatusOK {
			return 0, fmt.Errorf("list %s: status %d", day.Format(time.DateOnly), status)
		}

		appts := make([]booking.Appointment, 0, len(list.Appointments))
		for _, a := range list.Appointments {
			start, err1 := time.Parse(api.WireTime, a.StartTime)
			end, err2 := time.Parse(api.WireTime, a.EndTime)
			if err1 != nil || err2 != nil {
				return 0, fmt.Errorf("bad times on %s", a.ID)
			}
			appts = append(appts, booking.Appointment{ID: a.ID, StartTime: start, EndTime: end})
		}

		for i := range appts {
			for j := i + 1; j < len(appts); j++ {
				if booking.Overlaps(appts[i].StartTime, appts[i].EndTime, appts[j].StartTime, appts[j].EndTime) {
					s.log.Error().Str("a", appts[i].ID).Str("b", appts[j].ID).Msg("overlap")
					overlaps++
				}
			}
		}
	}
	return overlaps, nil
}

func (s *Simulator) PrintReport() {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Days: %d from %s\n", len(s.pool.Dates), s.config.StartDate.Format(time.DateOnly))
	fmt.Println()

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Emergency book", &s.metrics.Emergency)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Available slots", &s.metrics.Slots)
	printOperationReport("List by patient", &s.metrics.ListByPatient)
	printOperationReport("List by range", &s.metrics.ListByRange)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	errs := atomic.LoadInt64(&om.Error)
	avg, min, max, p50, p95 := om.Stats()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, pct(errs))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
