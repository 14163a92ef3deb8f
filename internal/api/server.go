package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fleetwire/fleetrelay/internal/config"
	"github.com/fleetwire/fleetrelay/internal/relay"
	"github.com/fleetwire/fleetrelay/internal/store"
	"github.com/fleetwire/fleetrelay/internal/whatsapp"
)

// Server is the HTTP server: fleet and WhatsApp webhook ingestion plus the
// template administration API.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	relay      *relay.Relay
	queue      relay.Queue
	templates  *TemplateServer
	waWebhook  *whatsapp.WebhookHandler
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(rel *relay.Relay, q relay.Queue, st store.Store, waWebhook *whatsapp.WebhookHandler, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		relay:     rel,
		queue:     q,
		templates: NewTemplateServer(st, logger),
		waWebhook: waWebhook,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// Inbound webhooks, authenticated by their own tokens
	s.router.Post("/webhooks/fleet/{provider}", s.handleFleetWebhook)
	s.router.Get("/webhooks/whatsapp", s.waWebhook.HandleVerify)
	s.router.Post("/webhooks/whatsapp", s.waWebhook.HandleIncoming)

	// Admin API (API key required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		s.templates.RegisterRoutes(r)
		r.Get("/queue", s.handleQueue)
	})
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.config.API.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
