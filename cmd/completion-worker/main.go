package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/visits"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "completion-worker").Logger()

	if cfg.StoreBackend != config.BackendPostgres {
		logger.Fatal().Str("store", cfg.StoreBackend).Msg("completion worker needs the postgres store")
	}

	logger.Info().Str("env", cfg.Env).Str("schedule", cfg.CompletionSchedule).Msg("completion-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	var store booking.Store = booking.NewPgStore(pgPool)

	if cfg.RedisLocks {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")
		store = redisclient.NewLockedStore(store, redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL, cfg.LockWait))
	}

	completer := visits.NewCompleter(store, booking.ResourceID(cfg.BookingResource), logger)

	// run once at startup
	runOnce(rootCtx, completer, logger)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.CompletionSchedule, func() { runOnce(rootCtx, completer, logger) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.CompletionSchedule).Msg("invalid completion schedule")
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping completion worker")

	// wait for an in-flight run to finish
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, c *visits.Completer, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := c.CompletePast(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("completion run error")
		return
	}
	logger.Info().Int("completed", n).Dur("took", time.Since(start)).Msg("completion run complete")
}
