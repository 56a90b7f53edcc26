package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// ServerConfig holds API server configuration. Nil stores disable their
// routes.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string

	Gateway   Gateway
	History   History
	Telemetry Telemetry
	Journal   Journal
	Gatherer  prometheus.Gatherer

	Logger *slog.Logger
}

// NewServer creates a new API server instance
func NewServer(config ServerConfig) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{logger: config.Logger}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(config),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// NewRouter builds the route table.
func NewRouter(config ServerConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))
	r.Use(corsMiddleware)

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if g := config.Gateway; g != nil {
			c := NewControlAPI(g, config.AllowedOrigins, logger)
			r.Get("/state", c.GetState)
			r.Get("/modes", c.GetModes)
			r.Post("/reinit", c.Reinit)
			r.Post("/mode", c.SetMode)
			r.Get("/events/stream", c.StreamEvents)
		}
		if h := config.History; h != nil {
			api := NewHistoryAPI(h)
			r.Get("/history/events", api.GetEvents)
			r.Get("/history/events/counts", api.GetEventCounts)
			r.Get("/history/frames", api.GetFrames)
			r.Get("/stats/latest", api.GetLatestStats)
			r.Get("/stats/history", api.GetStatsHistory)
		}
		if t := config.Telemetry; t != nil {
			r.Get("/telemetry", NewTelemetryAPI(t).GetSamples)
		}
		if j := config.Journal; j != nil {
			api := NewJournalAPI(j)
			r.Get("/journal/sessions", api.GetSessions)
			r.Get("/journal/sessions/{id}/events", api.GetSessionEvents)
		}
	})
	return r
}

// handleRoot returns API information
func handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name": "CAN Safety Gateway API",
		"endpoints": map[string]any{
			"health":  "/health",
			"metrics": "/metrics",
			"gateway": map[string]string{
				"state":  "/api/state",
				"modes":  "/api/modes",
				"reinit": "POST /api/reinit",
				"mode":   `POST /api/mode (body: {"mode": "subaru"})`,
				"stream": "ws /api/events/stream",
			},
			"history": map[string]string{
				"events": "/api/history/events?kind=violation&start_time=2024-01-01T00:00:00Z&limit=100",
				"counts": "/api/history/events/counts?start_time=2024-01-01T00:00:00Z",
				"frames": "/api/history/frames?can_id=0x122&interface=can0&limit=100&offset=0",
			},
			"socketcan_stats": map[string]string{
				"latest":  "/api/stats/latest?interface=can0",
				"history": "/api/stats/history?interface=can0&start_time=2024-01-01T00:00:00Z&limit=100",
			},
			"telemetry": "/api/telemetry?kind=subaru&start_time=2024-01-01T00:00:00Z&limit=100",
			"journal": map[string]string{
				"sessions": "/api/journal/sessions?limit=20",
				"events":   "/api/journal/sessions/{id}/events?limit=100",
			},
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server health status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("starting HTTP API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"remote", r.RemoteAddr,
				"duration", time.Since(start))
		})
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
