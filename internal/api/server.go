// Package api exposes the listener's health and control HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/listener"
	"github.com/iceout-archive/report-listener/internal/metrics"
)

// ManualTrigger starts one manual scrape cycle.
type ManualTrigger interface {
	TriggerManual(ctx context.Context)
}

// HealthConfig is the static configuration echoed in the health response.
type HealthConfig struct {
	TargetURL      string `json:"targetUrl"`
	LookbackDays   int    `json:"lookbackDays"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
	MaxPages       int    `json:"maxPages"`
	PageSize       int    `json:"pageSize"`
}

// Server wires the health, manual-trigger, and metrics handlers.
type Server struct {
	router  chi.Router
	state   *listener.State
	trigger ManualTrigger
	cfg     HealthConfig
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(state *listener.State, trigger ManualTrigger, cfg HealthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		state:   state,
		trigger: trigger,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/health", s.health)
	r.Post("/run-now", s.runNow)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Every other request gets a plain acknowledgement so upstream probes
	// never see an error from the control surface.
	r.NotFound(s.plainOK)
	r.MethodNotAllowed(s.plainOK)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	OK           bool                 `json:"ok"`
	Running      bool                 `json:"running"`
	ShuttingDown bool                 `json:"shuttingDown"`
	LastRun      *listener.RunSummary `json:"lastRun"`
	LastError    *string              `json:"lastError"`
	CursorIso    *time.Time           `json:"cursorIso"`
	Config       HealthConfig         `json:"config"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()

	resp := healthResponse{
		OK:           true,
		Running:      snap.Running,
		ShuttingDown: snap.ShuttingDown,
		LastRun:      snap.LastRun,
		CursorIso:    snap.Cursor,
		Config:       s.cfg,
	}
	if snap.LastError != "" {
		lastError := snap.LastError
		resp.LastError = &lastError
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runNow(w http.ResponseWriter, _ *http.Request) {
	// Fire and forget; the running flag inside the loop decides whether
	// the cycle actually happens.
	go s.trigger.TriggerManual(context.Background())
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true, "queued": true})
}

func (s *Server) plainOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}
