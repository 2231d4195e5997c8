package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/service"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *service.Service, version string) *Server {
	handler := NewHandler(svc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Transaction catalog
	router.Route("/transactions", func(r chi.Router) {
		r.Get("/", handler.ListTransactions)
		r.Delete("/", handler.ClearTransactions)
		r.Get("/summary", handler.Summary)
		r.Post("/generate", handler.Generate)
		r.Post("/import", handler.Import)
		r.Get("/{id}", handler.GetTransaction)
		r.Get("/{id}/assessment", handler.GetAssessment)
		r.Post("/{id}/label", handler.Label)
	})

	// Ad-hoc scoring
	router.Post("/score", handler.Score)

	// Recent alerts from the event bus
	router.Get("/alerts", handler.Alerts)

	// Simulation control
	router.Route("/simulation", func(r chi.Router) {
		r.Get("/", handler.SimulationStatus)
		r.Post("/start", handler.StartSimulation)
		r.Post("/stop", handler.StopSimulation)
		r.Put("/bias", handler.SetFraudBias)
		r.Put("/max-amount", handler.SetMaxAmount)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
