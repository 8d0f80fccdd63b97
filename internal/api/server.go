package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
	"github.com/foxzi/pacer/internal/config"
	"github.com/foxzi/pacer/internal/ipfilter"
	"github.com/foxzi/pacer/internal/metrics"
)

// Options carries the optional collaborators of the API server
type Options struct {
	// Runs is the run archive; nil disables the /runs endpoints
	Runs *archive.Storage

	// Collector records request metrics when set
	Collector *metrics.Collector

	// DefaultCampaign supplies the campaign started by an empty start request
	DefaultCampaign func() (campaign.Config, error)

	// MaxRecipients caps recipients parsed from recipients_csv
	MaxRecipients int

	Version string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	controller *campaign.Controller
	opts       Options
	config     *config.APIConfig
	filter     *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(ctrl *campaign.Controller, cfg *config.APIConfig, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		controller: ctrl,
		opts:       opts,
		config:     cfg,
		filter:     ipfilter.New(cfg.AllowedIPs, logger),
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware(s.opts.Collector))

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)

		r.Route("/campaign", func(r chi.Router) {
			r.Get("/", s.handleProgress)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleAction("stop", s.controller.Stop))
			r.Post("/pause", s.handleAction("pause", s.controller.Pause))
			r.Post("/resume", s.handleAction("resume", s.controller.Resume))
			r.Post("/skip", s.handleAction("skip", s.controller.Skip))
			r.Get("/config", s.handleCampaignConfig)
			r.Get("/log", s.handleLog)
			r.Patch("/log/{index}", s.handleMarkDelivery)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Use(s.archiveRequired)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Delete("/{id}", s.handleDeleteRun)
		})
	})
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
