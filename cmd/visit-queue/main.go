package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/config"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/httpapi"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/platform/db"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/telemetry"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/worker"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/migrations"
)

const serviceName = "visit-queue"

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Clinic visit queue orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reconcile schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func reconcileCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			var day *clock.ClinicDay
			if asOf != "" {
				loc, err := rt.orchestrator.Location(ctx)
				if err != nil {
					return err
				}
				parsed, err := clock.ParseDay(asOf, loc)
				if err != nil {
					return err
				}
				day = &parsed
			}

			report, err := rt.orchestrator.Reconcile(ctx, day)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			logger.Info().
				Str("as_of", report.AsOf).
				Int("orphans_fixed", report.OrphansFixed).
				Int("stale_closed", report.StaleClosed).
				Int("tokens_expired", report.TokensExpired).
				Int("visits_abandoned", report.VisitsAbandoned).
				Msg("reconcile finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Clinic day to reconcile (YYYY-MM-DD), today or earlier; defaults to today")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.DriverPostgres)
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", count).Msg("migrations complete")
			return nil
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	rt, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var scheduler *worker.Scheduler
	if cfg.ReconcileCron != "" {
		scheduler, err = worker.NewScheduler(cfg.ReconcileCron, rt.orchestrator, logger, 5*time.Minute)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	go pruneLimiter(ctx, limiter)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpapi.ErrorHandler
	e.Use(httpapi.Recovery(logger))
	e.Use(httpapi.RequestID())
	e.Use(httpapi.Logger(logger))
	httpapi.NewHandler(rt.orchestrator, rt.settings, rt.store).RegisterRoutes(e, limiter.Middleware())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(e, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func pruneLimiter(ctx context.Context, limiter *httpapi.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}
