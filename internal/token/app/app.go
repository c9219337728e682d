package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/tokenforge/internal/token/service"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/internal/token/store/drivers/sqlite"
	"github.com/aussiebroadwan/tokenforge/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the token engine, its store and the background pruner
// into a runnable daemon.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	engine *service.Engine
	pruner *service.Pruner
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "token-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	signing, encryption, err := InitCredentials(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}

	engine, err := service.NewEngine(service.Options{
		Issuer:                         cfg.Issuer,
		SigningCredentials:             signing,
		EncryptionCredentials:          encryption,
		DisableAccessTokenEncryption:   cfg.DisableAccessTokenEncryption,
		DisableTokenStorage:            cfg.DisableTokenStorage,
		DisableAuthorizationValidation: cfg.DisableAuthorizationValidation,
		UseReferenceAccessTokens:       cfg.UseReferenceAccessTokens,
		UseReferenceRefreshTokens:      cfg.UseReferenceRefreshTokens,
		ReuseLeeway:                    cfg.ReuseLeeway,
		ClockSkew:                      cfg.ClockSkew,
		Store:                          app.db,
		Logger:                         app.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token engine: %w", err)
	}
	app.engine = engine

	app.pruner = service.NewPruner(app.db, app.logger, cfg.PruneInterval)

	return app, nil
}

// Engine exposes the token engine for embedding callers.
func (app *Application) Engine() *service.Engine { return app.engine }

// Store exposes the underlying store for embedding callers.
func (app *Application) Store() store.Store { return app.db }

// Run starts the background workers and blocks until shutdown is requested
func (app *Application) Run() error {
	app.pruner.Start()

	app.logger.Info("token service started", "issuer", app.cfg.Issuer, "version", BuildVersion)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down token service...")

	app.pruner.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("token service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}
