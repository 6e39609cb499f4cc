// Package app wires the portal's services, router and background jobs.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dpcportal/portal/internal/audit"
	"github.com/dpcportal/portal/internal/config"
	"github.com/dpcportal/portal/internal/credentials"
	"github.com/dpcportal/portal/internal/db"
	"github.com/dpcportal/portal/internal/gateway"
	"github.com/dpcportal/portal/internal/identity"
	"github.com/dpcportal/portal/internal/invitations"
	"github.com/dpcportal/portal/internal/metrics"
	"github.com/dpcportal/portal/internal/notify"
	"github.com/dpcportal/portal/internal/orgs"
	"github.com/dpcportal/portal/internal/users"
	"github.com/dpcportal/portal/internal/verify"
)

// App holds the application state.
type App struct {
	Config *config.Config
	DB     *pgxpool.Pool
	Router http.Handler

	// Queue drives the self-chaining verification jobs.
	Queue *verify.Queue
	// VerificationJob is the head of the re-verification chain.
	VerificationJob verify.Job
	// CredentialStatusJob is the daily credential completeness report.
	CredentialStatusJob *credentials.StatusJob

	queueCancel context.CancelFunc
}

// New creates and initializes a new application instance.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	setupLogger(cfg.LogLevel)

	log.Info().Msg("Initializing DPC portal application")
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Configuration loaded")

	log.Info().Msg("Connecting to database...")
	pool, err := db.Connect(ctx, cfg.DBDSN, int32(cfg.DBMaxConns))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if cfg.IsDev() {
		log.Info().Msg("Development mode: running migrations automatically")
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	} else {
		log.Info().Msg("Production mode: migrations must be run manually")
	}

	m := metrics.New()
	auditor := audit.NewWriter(pool)

	orgSvc := orgs.NewService(pool)
	userSvc := users.NewService(pool)

	gatewayClient := gateway.NewHTTPClient(cfg.CpiGatewayBaseURL, cfg.CpiGatewayClientID, cfg.CpiGatewayClientSecret, m)
	eligibility := gateway.NewService(gatewayClient)

	identityClient := identity.NewClient(cfg.UserInfoURL)
	mailer := notify.NewMailer(cfg.MailWebhookURL, cfg.BaseURL, cfg.MailTimeoutMS)

	invitationSvc := invitations.NewService(pool, auditor, mailer)
	invitationHandlers := invitations.NewHandlers(
		invitationSvc, orgSvc, userSvc, identityClient, eligibility,
		m, cfg.SessionSecret, !cfg.IsDev(),
	)

	credentialClient := credentials.NewHTTPClient(cfg.DpcAPIBaseURL, cfg.DpcAPIToken)
	revocation := credentials.NewRevocationPolicy(credentialClient, orgSvc, auditor, m)
	statusJob := credentials.NewStatusJob(credentialClient, orgSvc)

	orgJob := verify.NewOrgJob(pool, eligibility, auditor, revocation, m,
		cfg.VerificationMaxRecords, cfg.VerificationLookbackHours)
	aoJob := verify.NewAoLinkJob(pool, eligibility, auditor, revocation, m,
		cfg.VerificationMaxRecords, cfg.VerificationLookbackHours, orgJob)

	queue := verify.NewQueue(16)
	queueCtx, queueCancel := context.WithCancel(context.Background())
	queue.Start(queueCtx)

	router := NewRouter(pool, cfg, invitationHandlers)

	app := &App{
		Config:              cfg,
		DB:                  pool,
		Router:              router,
		Queue:               queue,
		VerificationJob:     aoJob,
		CredentialStatusJob: statusJob,
		queueCancel:         queueCancel,
	}

	log.Info().Msg("Application initialized successfully")
	return app, nil
}

// EnqueueVerification kicks off the re-verification chain.
func (a *App) EnqueueVerification() {
	a.Queue.Enqueue(a.VerificationJob)
}

// Start starts the HTTP server.
func (a *App) Start() error {
	addr := a.Config.HTTPAddr
	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	server := &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// Close gracefully shuts down the application.
func (a *App) Close() {
	log.Info().Msg("Shutting down application")
	if a.queueCancel != nil {
		a.queueCancel()
		a.Queue.Stop()
	}
	if a.DB != nil {
		log.Info().Msg("Closing database connection")
		a.DB.Close()
	}
}

// setupLogger configures the global logger.
func setupLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Debug().Str("level", level).Msg("Logger configured")
}
