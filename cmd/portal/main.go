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

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/app"
	"github.com/dpcportal/portal/internal/config"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		os.Exit(runAdmin(os.Args[2:]))
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	cronScheduler, err := setupJobCron(cfg, application)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup scheduled jobs: %v\n", err)
		os.Exit(1)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}
}

// setupJobCron schedules the nightly re-verification chain and the daily
// credential status report. Dev mode runs verification every minute so
// changes can be observed without waiting for the schedule.
func setupJobCron(cfg *config.Config, application *app.App) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	verifySchedule := "0 2 * * *"
	if cfg.IsDev() {
		verifySchedule = "* * * * *"
	}

	_, err := c.AddFunc(verifySchedule, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Verification enqueue panicked")
			}
		}()
		application.EnqueueVerification()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule verification job: %w", err)
	}

	_, err = c.AddFunc("0 6 * * *", func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Credential status job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := application.CredentialStatusJob.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Credential status job failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule credential status job: %w", err)
	}

	return c, nil
}
