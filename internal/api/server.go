package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamindexer/internal/reconcile"
	"streamindexer/internal/storage"
)

// Server is the HTTP surface of the indexer: the chainhook webhook, the
// stream read API, health and Prometheus metrics.
type Server struct {
	httpServer *http.Server
	repository storage.Repository
	reconciler *reconcile.Reconciler
	secret     string
	port       int
}

// NewServer creates a new API server instance
func NewServer(port int, secret string, corsOrigins []string, repository storage.Repository, reconciler *reconcile.Reconciler) *Server {
	s := &Server{
		repository: repository,
		reconciler: reconciler,
		secret:     secret,
		port:       port,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Core endpoints
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Webhook from the chain-indexing service
	r.Post("/chainhook", s.handleChainhook)

	// Read API
	r.Get("/streams", s.handleListStreams)
	r.Get("/streams/{id}", s.handleGetStream)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server in a goroutine
// Returns immediately after starting the server
func (s *Server) Start() error {
	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/chainhook", "/streams"},
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
