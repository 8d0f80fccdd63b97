package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/pacer/internal/api"
	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
	"github.com/foxzi/pacer/internal/config"
	"github.com/foxzi/pacer/internal/metrics"
	"github.com/foxzi/pacer/internal/recipients"
)

// App is the main application
type App struct {
	config        *config.Config
	controller    *campaign.Controller
	runs          *archive.Storage
	collector     *metrics.Collector
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := NewLogger(cfg.Logging, os.Stdout)

	var observers []campaign.Observer

	var runs *archive.Storage
	if cfg.Storage.Path != "" {
		var err error
		runs, err = archive.Open(cfg.Storage.Path, cfg.Storage.MaxRuns)
		if err != nil {
			return nil, fmt.Errorf("failed to open run archive: %w", err)
		}
		observers = append(observers, archive.NewObserver(runs, logger.With("component", "archive")))
		logger.Info("run archive enabled", "path", cfg.Storage.Path, "max_runs", cfg.Storage.MaxRuns)
	}

	var collector *metrics.Collector
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()

		var err error
		if runs != nil {
			collector, err = metrics.NewCollector(runs.DB(), m, cfg.Storage.Path, 0)
		} else {
			collector, err = metrics.NewCollector(nil, m, "", 0)
		}
		if err != nil {
			closeArchive(runs, logger)
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}

		observers = append(observers, collector)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	controller := campaign.NewController(campaign.Options{
		Logger:    logger.With("component", "controller"),
		Observers: observers,
	})

	apiOpts := api.Options{
		Runs:          runs,
		Collector:     collector,
		MaxRecipients: cfg.Campaign.MaxRecipients,
		Version:       version,
	}
	if cfg.Campaign.File != "" {
		cc := cfg.Campaign
		apiOpts.DefaultCampaign = func() (campaign.Config, error) {
			return LoadCampaign(cc.File, cc.RecipientsFile, cc.MaxRecipients)
		}
	}

	apiServer := api.NewServer(controller, &cfg.API, logger.With("component", "api"), apiOpts)

	return &App{
		config:        cfg,
		controller:    controller,
		runs:          runs,
		collector:     collector,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Controller returns the campaign controller
func (a *App) Controller() *campaign.Controller {
	return a.controller
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting pacer",
		"api_addr", a.config.API.ListenAddr,
		"metrics_enabled", a.config.Metrics.Enabled,
		"archive_enabled", a.runs != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components. An active campaign is
// stopped first so its run reaches the archive.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.controller.Stop() {
		a.logger.Info("active campaign stopped")
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persist counters before the shared database closes
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	closeArchive(a.runs, a.logger)

	a.logger.Info("shutdown complete")
	return nil
}

func closeArchive(runs *archive.Storage, logger *slog.Logger) {
	if runs == nil {
		return
	}
	if err := runs.Close(); err != nil {
		logger.Error("archive close error", "error", err)
	}
}

// LoadCampaign reads a campaign definition. A non-empty recipientsFile
// replaces the recipients listed in the definition.
func LoadCampaign(file, recipientsFile string, maxRecipients int) (campaign.Config, error) {
	cfg, err := campaign.LoadConfig(file)
	if err != nil {
		return campaign.Config{}, err
	}

	if recipientsFile != "" {
		list, err := recipients.LoadFile(recipientsFile, maxRecipients)
		if err != nil {
			return campaign.Config{}, fmt.Errorf("failed to load recipients: %w", err)
		}
		cfg.Recipients = list
	}

	return *cfg, nil
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
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
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
