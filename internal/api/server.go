// Package api exposes a small read-only HTTP surface over the collected
// metrics for dashboards and run monitoring.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
)

// MetricsReader is the query surface the handlers need.
type MetricsReader interface {
	DailyForChannel(ctx context.Context, channelID string, from, to time.Time) ([]domain.DailyMetric, error)
	TrafficForChannel(ctx context.Context, channelID string, date time.Time) ([]domain.TrafficSourceMetric, error)
}

// RunReader exposes run history.
type RunReader interface {
	Latest(ctx context.Context) (*domain.CollectionRun, error)
}

// Server is the read API server.
type Server struct {
	cfg     config.ServerConfig
	db      *sql.DB
	metrics MetricsReader
	runs    RunReader
	srv     *http.Server
}

// NewServer assembles the read API.
func NewServer(cfg config.ServerConfig, db *sql.DB, metrics MetricsReader, runs RunReader) *Server {
	s := &Server{cfg: cfg, db: db, metrics: metrics, runs: runs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs/latest", s.handleLatestRun)
		r.Route("/channels/{channelID}", func(r chi.Router) {
			r.Get("/daily", s.handleDaily)
			r.Get("/traffic", s.handleTraffic)
		})
	})

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the routed handler, used directly in tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	logger.Info("api: listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
