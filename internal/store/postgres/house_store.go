package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quforge/qubet/internal/domain"
)

// HouseStore implements domain.HouseStore as a single-row counter table
// updated incrementally at settlement time, keeping the admin surface O(1).
type HouseStore struct {
	pool *pgxpool.Pool
}

// NewHouseStore creates a new HouseStore backed by the given pool.
func NewHouseStore(pool *pgxpool.Pool) *HouseStore {
	return &HouseStore{pool: pool}
}

// Apply adds one settlement's figures to the running counters.
func (s *HouseStore) Apply(ctx context.Context, d domain.HouseDelta) error {
	const query = `
		UPDATE house_bank SET
			fees_qu          = fees_qu + $1,
			payouts_qu       = payouts_qu + $2,
			refunds_qu       = refunds_qu + $3,
			wagered_qu       = wagered_qu + $4,
			rounds_settled   = rounds_settled + $5,
			markets_resolved = markets_resolved + $6
		WHERE id = 1`

	_, err := s.pool.Exec(ctx, query,
		d.FeesQu, d.PayoutsQu, d.RefundsQu, d.WageredQu,
		d.RoundsSettled, d.MarketsResolved)
	if err != nil {
		return fmt.Errorf("postgres: apply house delta: %w", err)
	}
	return nil
}

// Get returns the current house counters. Exposure is not stored here; the
// house service computes it live.
func (s *HouseStore) Get(ctx context.Context) (domain.HouseBank, error) {
	var h domain.HouseBank
	err := s.pool.QueryRow(ctx,
		`SELECT fees_qu, payouts_qu, refunds_qu, wagered_qu, rounds_settled, markets_resolved
		 FROM house_bank WHERE id = 1`).Scan(
		&h.FeesQu, &h.PayoutsQu, &h.RefundsQu, &h.WageredQu,
		&h.RoundsSettled, &h.MarketsResolved)
	if err != nil {
		return domain.HouseBank{}, fmt.Errorf("postgres: get house bank: %w", err)
	}
	return h, nil
}

// Compile-time interface check.
var _ domain.HouseStore = (*HouseStore)(nil)
