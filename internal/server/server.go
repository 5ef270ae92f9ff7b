// Package server assembles the HTTP API: routes, middleware chain, and
// graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/server/handler"
	"github.com/quforge/qubet/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	OperatorSecret   string
	RateLimit        int
	RateWindow       time.Duration
	RateLimitEnabled bool
}

// Handlers aggregates everything the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Accounts *handler.AccountHandler
	Rounds   *handler.RoundHandler
	Markets  *handler.MarketHandler
	Admin    *handler.AdminHandler
}

// Server is the engine's HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. Account
// auth and the operator secret wrap individual routes; logging, CORS, and
// rate limiting wrap the whole mux.
func NewServer(cfg Config, h Handlers, auth middleware.Authenticator, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	authed := middleware.AccountAuth(auth)
	operator := middleware.OperatorAuth(cfg.OperatorSecret)

	mux.HandleFunc("GET /health", h.Health.HealthCheck)

	// Account surface.
	mux.HandleFunc("POST /account", h.Accounts.CreateOrDeposit)
	mux.Handle("GET /account", authed(http.HandlerFunc(h.Accounts.GetAccount)))
	mux.Handle("POST /account/withdraw", authed(http.HandlerFunc(h.Accounts.Withdraw)))
	mux.Handle("GET /history", authed(http.HandlerFunc(h.Accounts.History)))
	mux.HandleFunc("GET /leaderboard", h.Accounts.Leaderboard)

	// Rounds.
	mux.HandleFunc("GET /rounds", h.Rounds.ListRounds)
	mux.HandleFunc("GET /rounds/{id}", h.Rounds.GetRound)
	mux.Handle("POST /rounds/{id}/bet", authed(http.HandlerFunc(h.Rounds.PlaceBet)))

	// Markets.
	mux.HandleFunc("GET /markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /markets/{id}", h.Markets.GetMarket)
	mux.Handle("POST /markets/{id}/join", authed(http.HandlerFunc(h.Markets.Join)))
	mux.Handle("POST /markets", operator(http.HandlerFunc(h.Markets.CreateMarket)))
	mux.Handle("POST /markets/{id}/resolve", operator(http.HandlerFunc(h.Markets.Resolve)))
	mux.Handle("POST /markets/{id}/void", operator(http.HandlerFunc(h.Markets.Void)))

	// Public aggregates.
	mux.HandleFunc("GET /stats", h.Admin.Stats)
	mux.HandleFunc("GET /house", h.Admin.House)

	// Operator surface.
	mux.Handle("GET /cron", operator(http.HandlerFunc(h.Admin.Cron)))
	mux.Handle("GET /admin/status", operator(http.HandlerFunc(h.Admin.Status)))

	var root http.Handler = mux
	if cfg.RateLimitEnabled && limiter != nil {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(root)
	}
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until an error or shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
