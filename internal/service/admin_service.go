package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/platform/qubic"
)

// BreakerStatus exposes the RPC circuit breaker's state for reporting.
// Satisfied by qubic.Breaker.
type BreakerStatus interface {
	State() domain.BreakerState
}

// TickSource reports the chain's current tick. Satisfied by
// qubic.GuardedClient.
type TickSource interface {
	TickInfo(ctx context.Context) (qubic.TickInfo, error)
}

// AdminStatus is the operator rollup served on the admin surface. Strictly
// read-only.
type AdminStatus struct {
	Accounts       int64                         `json:"accounts"`
	House          domain.HouseBank              `json:"house"`
	Breaker        domain.BreakerState           `json:"breaker"`
	Markets        map[domain.MarketStatus]int64 `json:"markets"`
	Escrows        map[domain.EscrowStatus]int64 `json:"escrows"`
	StorageBytes   int64                         `json:"storage_bytes"`
	ChainTick      uint64                        `json:"chain_tick,omitempty"`
	ChainEpoch     uint32                        `json:"chain_epoch,omitempty"`
	LastCronRun    string                        `json:"last_cron_run,omitempty"`
	LastCronErrors string                        `json:"last_cron_errors,omitempty"`
	LastArchiveRun string                        `json:"last_archive_run,omitempty"`
	GeneratedAt    time.Time                     `json:"generated_at"`
}

// PlatformStats is the public aggregate served on /stats.
type PlatformStats struct {
	Accounts        int64 `json:"accounts"`
	WageredQu       int64 `json:"wagered_qu"`
	PayoutsQu       int64 `json:"payouts_qu"`
	FeesQu          int64 `json:"fees_qu"`
	RoundsSettled   int64 `json:"rounds_settled"`
	MarketsResolved int64 `json:"markets_resolved"`
}

// AdminService aggregates operational state for the admin and stats
// surfaces. It never mutates anything.
type AdminService struct {
	accounts domain.AccountStore
	markets  domain.MarketStore
	status   domain.StatusStore
	house    *HouseService
	breaker  BreakerStatus
	chain    TickSource
	logger   *slog.Logger
}

// NewAdminService creates an AdminService with all required dependencies.
func NewAdminService(
	accounts domain.AccountStore,
	markets domain.MarketStore,
	status domain.StatusStore,
	house *HouseService,
	breaker BreakerStatus,
	chain TickSource,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		accounts: accounts,
		markets:  markets,
		status:   status,
		house:    house,
		breaker:  breaker,
		chain:    chain,
		logger:   logger,
	}
}

// Status assembles the full operator rollup. Missing status keys are not
// errors; they simply have not been written yet.
func (s *AdminService) Status(ctx context.Context) (AdminStatus, error) {
	out := AdminStatus{
		GeneratedAt: time.Now().UTC(),
		Breaker:     s.breaker.State(),
	}

	accounts, err := s.accounts.Count(ctx)
	if err != nil {
		return AdminStatus{}, fmt.Errorf("admin_service: count accounts: %w", err)
	}
	out.Accounts = accounts

	house, err := s.house.Summary(ctx)
	if err != nil {
		return AdminStatus{}, fmt.Errorf("admin_service: house summary: %w", err)
	}
	out.House = house

	marketCounts, err := s.markets.StatusCounts(ctx)
	if err != nil {
		return AdminStatus{}, fmt.Errorf("admin_service: market counts: %w", err)
	}
	out.Markets = marketCounts

	escrowCounts, err := s.markets.EscrowStatusCounts(ctx)
	if err != nil {
		return AdminStatus{}, fmt.Errorf("admin_service: escrow counts: %w", err)
	}
	out.Escrows = escrowCounts

	size, err := s.status.StorageSizeBytes(ctx)
	if err != nil {
		return AdminStatus{}, fmt.Errorf("admin_service: storage size: %w", err)
	}
	out.StorageBytes = size

	// Best effort: the rollup stays useful while the chain is unreachable.
	if tick, err := s.chain.TickInfo(ctx); err == nil {
		out.ChainTick = tick.Tick
		out.ChainEpoch = tick.Epoch
	}

	out.LastCronRun = s.statusValue(ctx, domain.StatusKeyLastCronRun)
	out.LastCronErrors = s.statusValue(ctx, domain.StatusKeyLastCronErrors)
	out.LastArchiveRun = s.statusValue(ctx, domain.StatusKeyLastArchiveRun)
	return out, nil
}

// Stats assembles the public platform aggregate.
func (s *AdminService) Stats(ctx context.Context) (PlatformStats, error) {
	accounts, err := s.accounts.Count(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("admin_service: count accounts: %w", err)
	}
	house, err := s.house.Summary(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("admin_service: house summary: %w", err)
	}
	return PlatformStats{
		Accounts:        accounts,
		WageredQu:       house.WageredQu,
		PayoutsQu:       house.PayoutsQu,
		FeesQu:          house.FeesQu,
		RoundsSettled:   house.RoundsSettled,
		MarketsResolved: house.MarketsResolved,
	}, nil
}

// CronHealth reports the last recorded scheduler pass. The manual trigger
// endpoint returns it alongside the trigger result so operators see both the
// kick and the outcome of the most recent run in one response.
func (s *AdminService) CronHealth(ctx context.Context) (lastRun, lastErrors string) {
	return s.statusValue(ctx, domain.StatusKeyLastCronRun),
		s.statusValue(ctx, domain.StatusKeyLastCronErrors)
}

func (s *AdminService) statusValue(ctx context.Context, key string) string {
	v, err := s.status.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "admin_service: read status key failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	return v
}
