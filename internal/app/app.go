package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetwire/fleetrelay/internal/api"
	"github.com/fleetwire/fleetrelay/internal/config"
	"github.com/fleetwire/fleetrelay/internal/fleet"
	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/metrics"
	"github.com/fleetwire/fleetrelay/internal/relay"
	"github.com/fleetwire/fleetrelay/internal/store"
	"github.com/fleetwire/fleetrelay/internal/whatsapp"
)

// App is the main application
type App struct {
	config        *config.Config
	queue         *relay.BoltStorage
	store         *store.BoltStore
	relay         *relay.Relay
	processor     *relay.Processor
	cleaner       *relay.Cleaner
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	// Delivery queue owns the database; the template store shares it
	queue, err := relay.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	templateStore, err := store.NewBolt(queue.DB(), cfg.Templates.DefaultLanguage, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create template store: %w", err)
	}

	compiler := message.NewCompiler(templateStore, logger.With("component", "compiler"))

	waClient := whatsapp.NewClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken)
	updater := fleet.NewUpdater(logger.With("component", "fleet_updater"))

	rel := relay.New(compiler, queue, updater, cfg.Templates.DefaultLanguage, logger.With("component", "relay"))

	processor := relay.NewProcessor(queue, waClient, relay.ProcessorConfig{
		Workers:         cfg.Relay.Workers,
		RetryInterval:   cfg.Relay.RetryInterval,
		MaxRetries:      cfg.Relay.MaxRetries,
		ProcessInterval: cfg.Relay.ProcessInterval,
	}, logger.With("component", "processor"))

	cleaner := relay.NewCleaner(queue, relay.CleanerConfig{
		MaxAge:   cfg.Relay.RetentionMaxAge,
		Interval: cfg.Relay.CleanupInterval,
	}, logger.With("component", "cleaner"))

	waWebhook := whatsapp.NewWebhookHandler(cfg.WhatsApp.VerifyToken, rel.HandleReply, logger.With("component", "wa_webhook"))

	apiServer := api.NewServer(rel, queue, templateStore, waWebhook, cfg, logger.With("component", "api"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger.With("component", "metrics"))
	}

	return &App{
		config:        cfg,
		queue:         queue,
		store:         templateStore,
		relay:         rel,
		processor:     processor,
		cleaner:       cleaner,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting fleetrelay",
		"api_addr", a.config.API.ListenAddr,
		"default_language", a.config.Templates.DefaultLanguage,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.processor.Start(ctx)
	a.cleaner.Start(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting new work first
	a.processor.Stop()
	a.cleaner.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.queue.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
