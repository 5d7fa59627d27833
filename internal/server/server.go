// Package server exposes the betting service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/betcoon/internal/crypto"
	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/server/handler"
	"github.com/alanyoungcy/betcoon/internal/server/middleware"
	"github.com/alanyoungcy/betcoon/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey guards every route except health; empty disables it.
	APIKey string
	// CallerAuth, when set, requires signed caller identity headers.
	CallerAuth *crypto.CallerAuth
	// RateLimit requests per RateWindow per caller; zero disables it.
	RateLimit  int
	RateWindow time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates the route handlers. Accounts may be nil when payouts
// do not go to the internal book.
type Handlers struct {
	Health   *handler.HealthHandler
	Bets     *handler.BetHandler
	Claims   *handler.ClaimHandler
	Accounts *handler.AccountHandler
	Events   *handler.EventHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers every route and wraps the mux in the middleware chain:
// CORS, identity, access log, API key, rate limit. limiter and hub may be
// nil.
func New(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Routes(cfg, h, hub, limiter, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      orDefault(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler; tests serve it with httptest.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("POST /api/bets", h.Bets.CreateBet)
	mux.HandleFunc("GET /api/bets", h.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{id}", h.Bets.GetBet)
	mux.HandleFunc("POST /api/bets/{id}/join", h.Bets.JoinBet)
	mux.HandleFunc("POST /api/bets/{id}/resolve", h.Bets.Resolve)

	mux.HandleFunc("POST /api/bets/{id}/claim", h.Claims.Claim)
	mux.HandleFunc("GET /api/bets/{id}/participations", h.Claims.ListParticipations)
	mux.HandleFunc("GET /api/bets/{id}/participations/{participant}", h.Claims.GetParticipation)
	mux.HandleFunc("GET /api/bets/{id}/payouts/{participant}", h.Claims.GetPayout)

	if h.Accounts != nil {
		mux.HandleFunc("GET /api/accounts/{account}/balance", h.Accounts.GetBalance)
	}
	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.ListEvents)
		mux.HandleFunc("GET /api/audit", h.Events.ListAudit)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, orDefault(cfg.RateWindow, time.Minute), logger)(root)
	}
	root = middleware.Auth(cfg.APIKey, "/api/health")(root)
	root = middleware.Logging(logger)(root)
	root = middleware.Identity(cfg.CallerAuth, nil)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
