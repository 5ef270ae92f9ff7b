// Package app provides the top-level application lifecycle for the
// settlement engine. It wires together stores, caches, the chain RPC
// breaker, services, the scheduler, and the HTTP API, and runs them until
// the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quforge/qubet/internal/config"
	"github.com/quforge/qubet/internal/scheduler"
	"github.com/quforge/qubet/internal/server"
	"github.com/quforge/qubet/internal/server/handler"
	"github.com/quforge/qubet/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the HTTP
// server and the scheduler, and blocks until the context is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting settlement engine",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("port", a.cfg.Server.Port),
	)
	a.logger.DebugContext(ctx, "active configuration",
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// --- Services ---
	ledgerSvc := service.NewLedgerService(
		deps.AccountStore, deps.TransactionStore, deps.LedgerStore, deps.Chain, a.logger)
	roundSvc := service.NewRoundService(
		deps.RoundStore, deps.LedgerStore, deps.HouseStore, deps.PriceCache, deps.Chain,
		service.RoundConfig{
			Pairs:           a.cfg.Game.Pairs,
			FeeBps:          a.cfg.Game.FeeBps,
			MinBetQu:        a.cfg.Game.MinBetQu,
			MaxBetQu:        a.cfg.Game.MaxBetQu,
			ResolutionDelay: a.cfg.Game.ResolutionDelay.Duration,
		}, a.logger)
	marketSvc := service.NewMarketService(
		deps.MarketStore, deps.LedgerStore, deps.HouseStore,
		service.MarketConfig{
			FeeBps:    a.cfg.Game.FeeBps,
			MinBetQu:  a.cfg.Game.MinBetQu,
			MaxBetQu:  a.cfg.Game.MaxBetQu,
			Lookahead: a.cfg.Game.Lookahead.Duration,
		}, a.logger)
	houseSvc := service.NewHouseService(
		deps.HouseStore, deps.RoundStore, deps.MarketStore, a.logger)
	adminSvc := service.NewAdminService(
		deps.AccountStore, deps.MarketStore, deps.StatusStore, houseSvc, deps.Breaker, deps.Chain, a.logger)

	// --- Scheduler ---
	jobs := []scheduler.Job{
		{Name: "rounds", Run: roundSvc.ProcessLanes},
		{Name: "markets", Run: marketSvc.ProcessMarkets},
		{Name: "withdrawals", Run: ledgerSvc.ProcessPendingWithdrawals},
	}
	if deps.Archiver != nil {
		jobs = append(jobs, scheduler.Job{
			Name: "archive",
			Run:  throttled(deps.Archiver.Run, a.cfg.Archive.Interval.Duration),
		})
	}
	sched := scheduler.New(jobs, a.cfg.Scheduler.TickInterval.Duration,
		scheduler.SystemClock{}, deps.StatusStore, a.logger)

	// --- HTTP server ---
	srv := server.NewServer(
		server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			OperatorSecret:   a.cfg.Server.OperatorSecret,
			RateLimit:        a.cfg.Server.RateLimit,
			RateWindow:       a.cfg.Server.RateWindow.Duration,
			RateLimitEnabled: a.cfg.Server.RateLimitEnabled,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.logger),
			Accounts: handler.NewAccountHandler(ledgerSvc, a.logger),
			Rounds:   handler.NewRoundHandler(roundSvc, a.cfg.Game.FeeBps, a.logger),
			Markets:  handler.NewMarketHandler(marketSvc, a.logger),
			Admin:    handler.NewAdminHandler(adminSvc, houseSvc, sched, a.logger),
		},
		ledgerSvc,
		deps.RateLimiter,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	sched.Start(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down settlement engine")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// throttled wraps a job so it runs at most once per interval even though the
// scheduler ticks far more often.
func throttled(run func(context.Context, time.Time) error, interval time.Duration) func(context.Context, time.Time) error {
	var mu sync.Mutex
	var last time.Time
	return func(ctx context.Context, now time.Time) error {
		mu.Lock()
		due := last.IsZero() || now.Sub(last) >= interval
		if due {
			last = now
		}
		mu.Unlock()
		if !due {
			return nil
		}
		return run(ctx, now)
	}
}
