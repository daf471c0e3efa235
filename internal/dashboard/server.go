// Package dashboard serves a read-only JSON API over stored backtest results.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/optionlegs/internal/models"
	"github.com/eddiefleurent/optionlegs/internal/reporting"
	"github.com/eddiefleurent/optionlegs/internal/storage"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	metrics   http.Handler
	logger    logrus.FieldLogger
	port      int
	authToken string
	scope     reporting.Scope
}

type Config struct {
	Port      int
	AuthToken string
	// Scope is the default trade scope of /api/summary and /api/equity.
	Scope reporting.Scope
}

// SummaryResponse pairs performance metrics with the storage aggregates.
type SummaryResponse struct {
	Metrics    *reporting.Metrics   `json:"metrics"`
	Statistics *storage.Statistics  `json:"statistics"`
	Daily      []reporting.DailyPnL `json:"daily"`
	Generated  time.Time            `json:"generated_at"`
}

// NewServer wires the routes. metrics may be nil to disable /metrics.
func NewServer(cfg Config, store storage.Interface, metrics http.Handler, logger logrus.FieldLogger) *Server {
	if cfg.Scope == "" {
		cfg.Scope = reporting.ScopeLeg
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		metrics:   metrics,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		scope:     cfg.Scope,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/summary", s.handleSummary)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/trades/{date}", s.handleTradesForDate)
	s.router.Get("/api/equity", s.handleEquity)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// scopeOf reads ?scope=package|leg, falling back to the server default.
func (s *Server) scopeOf(r *http.Request) (reporting.Scope, error) {
	switch v := reporting.Scope(r.URL.Query().Get("scope")); v {
	case "":
		return s.scope, nil
	case reporting.ScopePackage, reporting.ScopeLeg:
		return v, nil
	default:
		return "", fmt.Errorf("unknown scope %q", v)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopeOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history := s.storage.GetHistory()
	metrics, _ := reporting.Summarize(history, scope)
	s.writeJSON(w, SummaryResponse{
		Metrics:    metrics,
		Statistics: s.storage.GetStatistics(),
		Daily:      reporting.Daily(history),
		Generated:  time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.storage.GetStatistics())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if date := r.URL.Query().Get("date"); date != "" {
		s.writeTrades(w, date)
		return
	}
	history := s.storage.GetHistory()
	if history == nil {
		history = []models.TradeRow{}
	}
	s.writeJSON(w, history)
}

func (s *Server) handleTradesForDate(w http.ResponseWriter, r *http.Request) {
	s.writeTrades(w, chi.URLParam(r, "date"))
}

func (s *Server) writeTrades(w http.ResponseWriter, date string) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	rows, err := s.storage.GetTrades(date)
	if errors.Is(err, storage.ErrNoTrades) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("date", date).Error("Failed to load trades")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopeOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, curve := reporting.Summarize(s.storage.GetHistory(), scope)
	if curve == nil {
		curve = []reporting.EquityPoint{}
	}
	s.writeJSON(w, curve)
}
