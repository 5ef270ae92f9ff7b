package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quforge/qubet/internal/domain"
)

// HouseService reports the platform's financial position. Counters come from
// the persisted house bank row; exposure is always computed live so it stays
// correct no matter what settled in between reads.
type HouseService struct {
	house   domain.HouseStore
	rounds  domain.RoundStore
	markets domain.MarketStore
	logger  *slog.Logger
}

// NewHouseService creates a HouseService with all required dependencies.
func NewHouseService(
	house domain.HouseStore,
	rounds domain.RoundStore,
	markets domain.MarketStore,
	logger *slog.Logger,
) *HouseService {
	return &HouseService{
		house:   house,
		rounds:  rounds,
		markets: markets,
		logger:  logger,
	}
}

// Summary returns the house bank with its live exposure: the sum of all open
// round pools plus all currently held escrow.
func (s *HouseService) Summary(ctx context.Context) (domain.HouseBank, error) {
	bank, err := s.house.Get(ctx)
	if err != nil {
		return domain.HouseBank{}, fmt.Errorf("house_service: get house bank: %w", err)
	}

	openPool, err := s.rounds.OpenPoolQu(ctx)
	if err != nil {
		return domain.HouseBank{}, fmt.Errorf("house_service: open pool: %w", err)
	}
	heldEscrow, err := s.markets.HeldEscrowQu(ctx)
	if err != nil {
		return domain.HouseBank{}, fmt.Errorf("house_service: held escrow: %w", err)
	}

	bank.ExposureQu = openPool + heldEscrow
	return bank, nil
}
