package metrics

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/pacer/internal/ipfilter"
)

const (
	defaultListenAddr = ":9090"
	defaultPath       = "/metrics"
)

// Server exposes the registry for scraping. Only the scrape path is
// subject to the allow-list.
type Server struct {
	addr   string
	path   string
	filter *ipfilter.Filter
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the scrape endpoint; empty addr and path fall back
// to :9090 and /metrics.
func NewServer(m *Metrics, addr, path string, allowedIPs []string, logger *slog.Logger) *Server {
	s := &Server{
		addr:   cmp.Or(addr, defaultListenAddr),
		path:   cmp.Or(path, defaultPath),
		filter: ipfilter.New(allowedIPs, logger),
		logger: logger,
	}
	if s.filter.Enabled() {
		logger.Info("metrics allow-list active", "networks", s.filter.Count())
	}

	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(m),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the scrape and health routes.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes(m *Metrics) http.Handler {
	scrape := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true})

	mux := http.NewServeMux()
	mux.Handle(s.path, s.filter.Middleware(scrape))
	mux.HandleFunc("GET /health", serveHealth)
	return mux
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// ListenAndServe blocks until Shutdown, after which it returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("metrics endpoint listening", "addr", s.addr, "path", s.path)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping metrics endpoint")
	return s.http.Shutdown(ctx)
}
