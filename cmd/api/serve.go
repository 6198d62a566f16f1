package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"arrowhead/api/internal/app"
	"arrowhead/api/internal/auth"
	"arrowhead/api/internal/clock"
	"arrowhead/api/internal/config"
	"arrowhead/api/internal/cors"
	"arrowhead/api/internal/lock"
	"arrowhead/api/internal/logging"
	"arrowhead/api/internal/store"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "listen address (default :8788)")
	flags.String("lock-backend", "", "lock backend: memory or redis")
	flags.BoolVar(&migrate, "migrate", false, "apply bundled migrations before serving (DATABASE_URL only)")
	mustBind(v, "API_ADDR", flags.Lookup("addr"))
	mustBind(v, "LOCK_BACKEND", flags.Lookup("lock-backend"))
	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	logger := logging.New(cfg.LogLevel, os.Stderr).With("app", "arrowhead-api")
	slog.SetDefault(logger)

	dir, closeDir, err := openDirectory(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	defer closeDir()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := lock.NewMetrics(registry)

	locks, closeLocks, err := openLocks(cfg, metrics, registry, logger)
	if err != nil {
		return err
	}
	defer closeLocks()

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret, clock.Real{})
	} else {
		logger.Error("SUPABASE_JWT_SECRET is not set; authenticated routes will return 500")
	}

	service := app.New(dir, lock.Instrument(locks, metrics), clock.Real{}, logger)
	httpServer := app.NewHTTPServer(service, verifier, cors.NewPolicy(cfg.PublicSiteURL, cfg.AllowedOrigins), logger, registry)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "lock_backend", cfg.LockBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	return nil
}

func openDirectory(ctx context.Context, cfg config.Config, migrate bool, logger *slog.Logger) (app.Directory, func(), error) {
	if err := cfg.RequireDirectory(); err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		logger.Info("using Supabase REST directory", "url", cfg.SupabaseURL)
		rest, err := store.NewRESTStore(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, nil)
		if err != nil {
			return nil, nil, err
		}
		return rest, func() {}, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, dbPool(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if migrate {
		applied, err := store.ApplyMigrations(ctx, db, store.Migrations())
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info("migrations applied", "versions", applied)
	}
	logger.Info("using Postgres directory")
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

func dbPool(cfg config.Config) store.PoolConfig {
	return store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func openLocks(cfg config.Config, metrics *lock.Metrics, reg prometheus.Registerer, logger *slog.Logger) (lock.Store, func(), error) {
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		redisStore, err := lock.NewRedisStore(cfg.RedisURL, cfg.LockKeyPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("using Redis lock store", "prefix", cfg.LockKeyPrefix)
		return redisStore, func() { _ = redisStore.Close() }, nil
	default:
		memory := lock.NewMemoryStore(clock.Real{})
		metrics.ObserveActive(reg, memory)
		logger.Warn("using in-process lock store; locks are not shared between instances")
		return memory, func() {}, nil
	}
}
