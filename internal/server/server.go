// ABOUTME: HTTP server wiring the webhook, admin, and health endpoints
// ABOUTME: Owns router construction and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/storelink/warelay/internal/config"
	"github.com/storelink/warelay/internal/gateway"
	"github.com/storelink/warelay/internal/inbound"
	"github.com/storelink/warelay/internal/store"
)

// Provisioner is the slice of the gateway client the admin API needs.
type Provisioner interface {
	CreateInstance(ctx context.Context, name string) (*gateway.Instance, error)
	DeleteInstance(ctx context.Context, name string) error
	GetConnectionState(ctx context.Context, name string) (*gateway.ConnectionState, error)
	Connect(ctx context.Context, name string) (*gateway.Pairing, error)
}

// Server hosts the inbound webhook, the provisioning API, and health.
type Server struct {
	cfg         *config.Config
	store       store.Store
	provisioner Provisioner
	pipeline    *inbound.Pipeline
	logger      *slog.Logger
	httpServer  *http.Server
	startedAt   time.Time
}

// New creates a server. Call Start to begin listening.
func New(cfg *config.Config, s store.Store, p Provisioner, pipeline *inbound.Pipeline, logger *slog.Logger) *Server {
	srv := &Server{
		cfg:         cfg,
		store:       s,
		provisioner: p,
		pipeline:    pipeline,
		logger:      logger.With("component", "server"),
		startedAt:   time.Now(),
	}
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler builds the route tree. Exposed so tests can drive the server
// through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)

	r.Route("/api/instances", func(r chi.Router) {
		r.Use(s.requireAdminToken)
		r.Post("/", s.handleCreateInstance)
		r.Delete("/{name}", s.handleDeleteInstance)
		r.Get("/{name}/status", s.handleInstanceStatus)
		r.Get("/{name}/pairing", s.handleInstancePairing)
	})

	return r
}

// Start begins serving HTTP. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.cfg.Server.HTTPAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness and store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	var probe struct{}
	if err := s.store.Get(r.Context(), "health/probe", &probe); err != nil && !errors.Is(err, store.ErrNotFound) {
		status = "store unavailable"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// requireAdminToken guards the provisioning API with the static bearer
// token from config. An unset token disables the API entirely.
func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Admin.Token == "" {
			writeError(w, http.StatusForbidden, "admin API disabled")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.Admin.Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
