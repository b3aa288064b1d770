package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", "reminder-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.ReminderInterval).
		Str("timezone", cfg.ClinicTimezone.String()).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(rootCtx, 30*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer metricsSrv.Close()
	}

	// Run once at startup
	runOnce(rootCtx, a.Reminders, cfg.ReminderLockTTL, logger)

	ticker := time.NewTicker(cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Reminders, cfg.ReminderLockTTL, logger)
		}
	}
}

func runOnce(ctx context.Context, runner reminder.Runner, timeout time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := runner.Run(runCtx)
	switch {
	case errors.Is(err, reminder.ErrRunInProgress):
		logger.Info().Msg("another instance is running today's reminders, skipping")
	case err != nil:
		logger.Error().Err(err).Msg("reminder run failed")
	default:
		logger.Info().
			Int("sent", res.Sent()).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Dur("took", time.Since(start)).
			Msg("reminder run complete")
	}
}
