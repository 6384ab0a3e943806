// Package server wires the leadcrm HTTP API: it opens the database, runs
// migrations, builds services and the router, starts the token cleanup
// worker and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/leadcrm/internal/dbx"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/mailer"
	"github.com/dmitrijs2005/leadcrm/internal/server/metrics"
	"github.com/dmitrijs2005/leadcrm/internal/server/oauth"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/leadcrm/internal/server/rest"
	"github.com/dmitrijs2005/leadcrm/internal/server/services"
	"github.com/dmitrijs2005/leadcrm/internal/server/workers"
	"github.com/dmitrijs2005/leadcrm/internal/telemetry"
)

const serviceName = "leadcrm"

var (
	openDB               = dbx.Open
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	initTelemetry        = telemetry.Init
)

type App struct {
	config          *config.Config
	logger          logging.Logger
	db              *sql.DB
	server          *rest.HTTPServer
	cleanup         *workers.CleanupWorker
	shutdownTracing telemetry.ShutdownFunc
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(logging.Options{
		Backend: c.LogBackend,
		Format:  c.LogFormat,
		Level:   c.LogLevel,
	})

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := openDB(ctx, c.DatabaseDSN, dbx.DefaultPoolOptions)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	shutdownTracing, err := initTelemetry(ctx, serviceName, c.OTLPEndpoint, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	m := metrics.New()
	tokens := services.NewTokenService(db, rm, c, logger)
	users := services.NewUserService(db, rm, c, logger)

	deps := rest.Deps{
		Config:    c,
		Logger:    logger,
		Metrics:   m,
		Users:     users,
		Tokens:    tokens,
		Documents: services.NewDocumentService(c),
		Notifier:  mailer.NewNotifier(mailer.NewSender(c, logger), c.FrontendURL),
		DB:        db,
	}
	if c.GoogleEnabled() {
		deps.OAuth = services.NewOAuthService(oauth.NewGoogleProvider(c), users, tokens, logger)
	} else {
		logger.Info(ctx, "google login disabled, client credentials not configured")
	}

	return &App{
		config:          c,
		logger:          logger,
		db:              db,
		server:          rest.NewHTTPServer(c.HTTPAddr, rest.NewRouter(rest.NewHandler(deps)), logger),
		cleanup:         workers.NewCleanupWorker(tokens, c.TokenCleanupInterval, logger, m),
		shutdownTracing: shutdownTracing,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server error", "err", err)
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or ctx is cancelled.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "environment", app.config.Environment)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.cleanup.Run(ctx)
	}()

	wg.Wait()

	app.close(context.WithoutCancel(ctx))
}

func (app *App) close(ctx context.Context) {
	if err := app.shutdownTracing(ctx); err != nil {
		app.logger.Error(ctx, "tracing shutdown error", "err", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "err", err)
	}
	app.logger.Info(ctx, "App stopped")
}
