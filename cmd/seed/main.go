package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

var (
	durations  = []int{30, 45, 60}
	categories = []string{string(booking.CategoryCleaning), string(booking.CategoryGeneralCheckup), string(booking.CategoryEmergency)}
)

func main() {
	var (
		count    int
		patients int
		days     int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Book random appointments through the booking engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return fmt.Errorf("seeding needs STORE_BACKEND=%s", config.BackendPostgres)
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
			cancel()
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			// the engine logs every booking at info; keep seed output readable
			engine := booking.NewEngine(booking.NewPgStore(pool), cfg, logger.Level(zerolog.WarnLevel))
			return seed(cmd.Context(), engine, logger, count, patients, days)
		},
	}
	cmd.Flags().IntVar(&count, "count", 200, "booking attempts")
	cmd.Flags().IntVar(&patients, "patients", 50, "distinct patients")
	cmd.Flags().IntVar(&days, "days", 14, "spread bookings over this many days from today")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func seed(ctx context.Context, engine *booking.Engine, logger zerolog.Logger, count, patients, days int) error {
	if patients <= 0 || days <= 0 {
		return errors.New("patients and days must be positive")
	}

	ids := make([]string, patients)
	for i := range ids {
		ids[i] = gofakeit.UUID()
	}

	today := booking.DateOf(booking.WallClock(time.Now()))
	var booked, rejected int

	for i := 0; i < count; i++ {
		date := randomBusinessDay(today, days)
		req := booking.BookRequest{
			PatientID:       ids[gofakeit.Number(0, len(ids)-1)],
			Category:        booking.Category(gofakeit.RandomString(categories)),
			TargetDate:      &date,
			DurationMinutes: durations[gofakeit.Number(0, len(durations)-1)],
		}

		// most emergencies still come in with a requested time
		if req.Category != booking.CategoryEmergency || gofakeit.Number(0, 3) > 0 {
			start := randomStart(date)
			req.Start = &start
		}
		if gofakeit.Number(0, 4) == 0 {
			note := fmt.Sprintf("referred by %s", gofakeit.Name())
			req.Notes = &note
		}

		_, err := engine.Book(ctx, req)
		switch {
		case err == nil:
			booked++
		case errors.Is(err, booking.ErrStoreFailure):
			return err
		default:
			rejected++
		}

		if (i+1)%100 == 0 {
			logger.Info().Int("attempted", i+1).Int("booked", booked).Msg("seeding")
		}
	}

	logger.Info().Int("booked", booked).Int("rejected", rejected).Msg("seed complete")
	return nil
}

// randomBusinessDay picks a day in [today, today+days), moving Sundays to Monday.
func randomBusinessDay(today time.Time, days int) time.Time {
	d := today.AddDate(0, 0, gofakeit.Number(0, days-1))
	if !booking.IsBusinessDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// randomStart returns a quarter-hour mark between opening and 17:00.
func randomStart(date time.Time) time.Time {
	opens, _ := booking.BusinessDay(date)
	quarters := (booking.CloseHour - booking.OpenHour - 1) * 4
	return opens.Add(time.Duration(gofakeit.Number(0, quarters)) * 15 * time.Minute)
}
