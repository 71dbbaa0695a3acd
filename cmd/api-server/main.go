package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Clinic appointment booking API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			return runServer(cfg, logging.New(cfg.Env, cfg.LogLevel))
		},
	}
}

func runServer(cfg config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).
		Bool("redis_locks", cfg.RedisLocks).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	required := map[string]api.Pinger{}
	optional := map[string]api.Pinger{}

	var store booking.Store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := connectPostgres(rootCtx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to Postgres")

		store = booking.NewPgStore(pool)
		required["postgres"] = pool
	default:
		store = booking.NewMemoryStore()
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	}

	if cfg.RedisLocks {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		store = redisclient.NewLockedStore(store, redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL, cfg.LockWait))
		optional["redis"] = redisPinger(rdb)
	}

	engine := booking.NewEngine(store, cfg, logger)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:         engine,
			DefaultDuration: cfg.DefaultDurationMinutes,
			Required:        required,
			Optional:        optional,
			Env:             cfg.Env,
			Version:         cfg.Version,
			Logger:          logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func connectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	return pool, nil
}

func redisPinger(rdb *redis.Client) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				state, at := "pending", ""
				if s.Applied {
					state = "applied"
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
			}
			return nil
		},
	})

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	if cfg.StoreBackend != config.BackendPostgres {
		return nil, nil, fmt.Errorf("migrations need STORE_BACKEND=%s, got %q", config.BackendPostgres, cfg.StoreBackend)
	}

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, db.Migrations()), pool.Close, nil
}
