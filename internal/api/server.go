// Package api exposes the ledger and the session monitor over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/comptrack/internal/auth"
	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/comp"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/goodtune/comptrack/internal/session"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// UserHeader and NameHeader carry the identity asserted by the
	// upstream authentication proxy.
	UserHeader string
	NameHeader string

	// PushInterval is how often the session websocket pushes state.
	PushInterval time.Duration
}

// Pinger checks backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API serves.
type Deps struct {
	Auth     *auth.Provider
	Registry *session.Registry
	Comps    *comp.Service
	Resolver *opday.Resolver
	Health   Pinger
	Clock    clock.Clock
}

// Server is the API HTTP server.
type Server struct {
	config   Config
	deps     Deps
	router   *mux.Router
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-Auth-User"
	}
	if cfg.NameHeader == "" {
		cfg.NameHeader = "X-Auth-Name"
	}
	if cfg.PushInterval == 0 {
		cfg.PushInterval = time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	// Public routes
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/day", s.handleDay).Methods("GET")
	s.router.HandleFunc("/api/session", s.handleOpenSession).Methods("POST")

	// Authenticated routes
	authRouter := s.router.PathPrefix("/api").Subrouter()
	authRouter.Use(AuthMiddleware(s.deps.Auth, s.deps.Registry, s.logger))

	sessions := &sessionHandler{
		provider: s.deps.Auth,
		registry: s.deps.Registry,
		clock:    s.deps.Clock,
		push:     s.config.PushInterval,
		logger:   s.logger.With().Str("handler", "session").Logger(),
	}
	authRouter.HandleFunc("/session", sessions.Get).Methods("GET")
	authRouter.HandleFunc("/session", sessions.Close).Methods("DELETE")
	authRouter.HandleFunc("/session/activity", sessions.Activity).Methods("POST")
	authRouter.HandleFunc("/session/extend", sessions.Extend).Methods("POST")
	authRouter.HandleFunc("/session/reset", sessions.Reset).Methods("POST")
	authRouter.HandleFunc("/session/notices", sessions.Notices).Methods("GET")
	authRouter.HandleFunc("/session/ws", sessions.WebSocket).Methods("GET")

	comps := &compHandler{
		comps:    s.deps.Comps,
		resolver: s.deps.Resolver,
		logger:   s.logger.With().Str("handler", "comps").Logger(),
	}
	authRouter.HandleFunc("/comps", comps.List).Methods("GET")
	authRouter.HandleFunc("/comps", comps.Create).Methods("POST")
	authRouter.HandleFunc("/comps/{id}", comps.Get).Methods("GET")
	authRouter.HandleFunc("/comps/{id}", comps.Delete).Methods("DELETE")
	authRouter.HandleFunc("/days", comps.ListDays).Methods("GET")
	authRouter.HandleFunc("/days/today", comps.Today).Methods("GET")
	authRouter.HandleFunc("/days/{day}/summary", comps.Summary).Methods("GET")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	if s.listener != nil {
		s.logger.Info().
			Str("addr", s.listener.Addr().String()).
			Msg("Starting API server (systemd socket)")

		go func() {
			if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("API server error")
			}
		}()
		return nil
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"open_sessions": s.deps.Registry.Len(),
	})
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	at := s.deps.Clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Parameter at must be an RFC 3339 timestamp")
			return
		}
		at = parsed
	}

	writeJSON(w, http.StatusOK, s.deps.Resolver.Describe(at))
}
