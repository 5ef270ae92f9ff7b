package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/platform/qubic"
)

// PriceSource supplies live prices for round lock and resolution. Satisfied
// by qubic.GuardedClient.
type PriceSource interface {
	CurrentPrice(ctx context.Context, pair string) (qubic.PricePoint, error)
}

// RoundConfig holds the game parameters the round engine needs.
type RoundConfig struct {
	Pairs           []string
	FeeBps          int64
	MinBetQu        int64
	MaxBetQu        int64
	ResolutionDelay time.Duration
}

// RoundService runs the pari-mutuel up/down rounds: lane lifecycle, bet
// admission, and settlement.
type RoundService struct {
	rounds domain.RoundStore
	ledger domain.LedgerStore
	house  domain.HouseStore
	prices domain.PriceCache
	chain  PriceSource
	cfg    RoundConfig
	logger *slog.Logger
}

// NewRoundService creates a RoundService with all required dependencies.
func NewRoundService(
	rounds domain.RoundStore,
	ledger domain.LedgerStore,
	house domain.HouseStore,
	prices domain.PriceCache,
	chain PriceSource,
	cfg RoundConfig,
	logger *slog.Logger,
) *RoundService {
	return &RoundService{
		rounds: rounds,
		ledger: ledger,
		house:  house,
		prices: prices,
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
}

// PlaceBet stakes amountQu on one side of an active round. The debit, wager
// transaction, entry insert, and pool growth commit as a single unit.
func (s *RoundService) PlaceBet(ctx context.Context, address, roundID string, side domain.Side, amountQu int64) (domain.RoundEntry, error) {
	if !side.Valid() {
		return domain.RoundEntry{}, fmt.Errorf("round_service: %w: unknown side %q", domain.ErrValidation, side)
	}
	if amountQu < s.cfg.MinBetQu || amountQu > s.cfg.MaxBetQu {
		return domain.RoundEntry{}, fmt.Errorf("round_service: %w: bet must be between %d and %d qu",
			domain.ErrValidation, s.cfg.MinBetQu, s.cfg.MaxBetQu)
	}

	entry := domain.RoundEntry{
		RoundID:   roundID,
		Address:   address,
		Side:      side,
		AmountQu:  amountQu,
		CreatedAt: time.Now().UTC(),
	}
	wager := domain.Transaction{
		ID:          uuid.NewString(),
		Address:     address,
		Kind:        domain.TxWager,
		AmountQu:    amountQu,
		Status:      domain.TxConfirmed,
		ExternalRef: roundID,
		CreatedAt:   entry.CreatedAt,
	}
	if err := s.ledger.PlaceRoundBet(ctx, entry, wager); err != nil {
		return domain.RoundEntry{}, fmt.Errorf("round_service: place bet: %w", err)
	}

	s.logger.InfoContext(ctx, "round_service: bet placed",
		slog.String("round_id", roundID),
		slog.String("address", address),
		slog.String("side", string(side)),
		slog.Int64("amount_qu", amountQu),
	)
	return entry, nil
}

// GetRound returns a round with its entries and snapshots.
func (s *RoundService) GetRound(ctx context.Context, id string) (domain.Round, []domain.RoundEntry, []domain.PriceSnapshot, error) {
	r, err := s.rounds.GetByID(ctx, id)
	if err != nil {
		return domain.Round{}, nil, nil, fmt.Errorf("round_service: get round %q: %w", id, err)
	}
	entries, err := s.rounds.ListEntries(ctx, id)
	if err != nil {
		return domain.Round{}, nil, nil, fmt.Errorf("round_service: list entries %q: %w", id, err)
	}
	snaps, err := s.rounds.ListSnapshots(ctx, id)
	if err != nil {
		return domain.Round{}, nil, nil, fmt.Errorf("round_service: list snapshots %q: %w", id, err)
	}
	return r, entries, snaps, nil
}

// ListRounds returns rounds matching the filter, newest first.
func (s *RoundService) ListRounds(ctx context.Context, f domain.RoundFilter, opts domain.ListOpts) ([]domain.Round, error) {
	rounds, err := s.rounds.List(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: list rounds: %w", err)
	}
	return rounds, nil
}

// ActiveRounds returns the currently active round for every lane that has
// one.
func (s *RoundService) ActiveRounds(ctx context.Context) ([]domain.Round, error) {
	var out []domain.Round
	for _, pair := range s.cfg.Pairs {
		for _, dur := range domain.RoundDurations {
			r, err := s.rounds.GetActive(ctx, pair, dur)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("round_service: active round %s/%d: %w", pair, dur, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// ProcessLanes advances every lane one step: opens missing rounds, locks
// rounds whose betting window closed, resolves locked rounds whose
// measurement window elapsed, and settles resolved rounds. Each lane error
// is logged and the remaining lanes still run; the first error is returned
// for cron health reporting.
func (s *RoundService) ProcessLanes(ctx context.Context, now time.Time) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Lock before opening replacements, so a lane whose round just closed
	// gets its next round within the same tick.
	record(s.lockDue(ctx, now))
	for _, pair := range s.cfg.Pairs {
		for _, dur := range domain.RoundDurations {
			record(s.ensureActive(ctx, pair, dur, now))
		}
	}
	record(s.resolveDue(ctx, now))
	record(s.settleResolved(ctx))
	return firstErr
}

// ensureActive guarantees the lane has an active round accepting bets.
func (s *RoundService) ensureActive(ctx context.Context, pair string, dur domain.RoundDuration, now time.Time) error {
	_, err := s.rounds.GetActive(ctx, pair, dur)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("round_service: get active %s/%d: %w", pair, dur, err)
	}

	r := domain.Round{
		ID:       uuid.NewString(),
		Pair:     pair,
		Duration: dur,
		Status:   domain.RoundPending,
		OpenAt:   now,
		CloseAt:  now.Add(dur.Window()),
	}
	if err := s.rounds.Create(ctx, r); err != nil {
		return fmt.Errorf("round_service: create round %s/%d: %w", pair, dur, err)
	}
	applied, err := s.rounds.Transition(ctx, r.ID, domain.RoundPending, domain.RoundActive)
	if err != nil {
		return fmt.Errorf("round_service: activate round %s: %w", r.ID, err)
	}
	if applied {
		s.logger.InfoContext(ctx, "round_service: round opened",
			slog.String("round_id", r.ID),
			slog.String("pair", pair),
			slog.Int("duration_s", int(dur)),
		)
	}
	return nil
}

// lockDue locks every active round whose betting window has closed,
// snapshotting the start price.
func (s *RoundService) lockDue(ctx context.Context, now time.Time) error {
	active, err := s.rounds.ListByStatus(ctx, domain.RoundActive)
	if err != nil {
		return fmt.Errorf("round_service: list active: %w", err)
	}

	var firstErr error
	for _, r := range active {
		if now.Before(r.CloseAt) {
			continue
		}
		price, err := s.fetchPrice(ctx, r.Pair)
		if err != nil {
			s.logger.WarnContext(ctx, "round_service: lock deferred, no price",
				slog.String("round_id", r.ID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied, err := s.rounds.Lock(ctx, r.ID, price)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("round_service: lock round %s: %w", r.ID, err)
			}
			continue
		}
		if !applied {
			continue
		}
		if err := s.rounds.AddSnapshot(ctx, domain.PriceSnapshot{
			RoundID:   r.ID,
			Price:     price,
			Source:    "lock",
			Timestamp: now,
		}); err != nil {
			s.logger.WarnContext(ctx, "round_service: lock snapshot failed",
				slog.String("round_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "round_service: round locked",
			slog.String("round_id", r.ID),
			slog.String("start_price", price.String()),
		)
	}
	return firstErr
}

// resolveDue resolves every locked round whose measurement window has
// elapsed. The measurement window runs for the round's duration after the
// betting close, plus a small delay for price finality.
func (s *RoundService) resolveDue(ctx context.Context, now time.Time) error {
	locked, err := s.rounds.ListByStatus(ctx, domain.RoundLocked)
	if err != nil {
		return fmt.Errorf("round_service: list locked: %w", err)
	}

	var firstErr error
	for _, r := range locked {
		resolveAt := r.CloseAt.Add(r.Duration.Window()).Add(s.cfg.ResolutionDelay)
		if now.Before(resolveAt) {
			continue
		}
		price, err := s.fetchPrice(ctx, r.Pair)
		if err != nil {
			s.logger.WarnContext(ctx, "round_service: resolve deferred, no price",
				slog.String("round_id", r.ID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		outcome := domain.ComputeOutcome(r.StartPrice, price)
		applied, err := s.rounds.Resolve(ctx, r.ID, price, outcome)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("round_service: resolve round %s: %w", r.ID, err)
			}
			continue
		}
		if !applied {
			continue
		}
		if err := s.rounds.AddSnapshot(ctx, domain.PriceSnapshot{
			RoundID:   r.ID,
			Price:     price,
			Source:    "resolve",
			Timestamp: now,
		}); err != nil {
			s.logger.WarnContext(ctx, "round_service: resolve snapshot failed",
				slog.String("round_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "round_service: round resolved",
			slog.String("round_id", r.ID),
			slog.String("resolve_price", price.String()),
			slog.String("outcome", string(outcome)),
		)
	}
	return firstErr
}

// settleResolved pays out every resolved round. A round is claimed by the
// guarded resolved -> settled transition before any payout is written, so
// concurrent runs settle it at most once; per-entry guards make replay after
// a partial failure safe.
func (s *RoundService) settleResolved(ctx context.Context) error {
	resolved, err := s.rounds.ListByStatus(ctx, domain.RoundResolved)
	if err != nil {
		return fmt.Errorf("round_service: list resolved: %w", err)
	}

	var firstErr error
	for _, r := range resolved {
		if err := s.settleRound(ctx, r); err != nil {
			s.logger.ErrorContext(ctx, "round_service: settle round failed",
				slog.String("round_id", r.ID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *RoundService) settleRound(ctx context.Context, r domain.Round) error {
	claimed, err := s.rounds.Transition(ctx, r.ID, domain.RoundResolved, domain.RoundSettled)
	if err != nil {
		return fmt.Errorf("claim round: %w", err)
	}
	if !claimed {
		return nil
	}

	entries, err := s.rounds.ListEntries(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	winningPool, losingPool := r.UpPoolQu, r.DownPoolQu
	if r.Outcome == domain.OutcomeDown {
		winningPool, losingPool = losingPool, winningPool
	}
	// An empty side means nobody can fund the winners (or nobody won), and a
	// push means no price movement: either way every stake is refunded.
	refundAll := r.Outcome == domain.OutcomePush || winningPool == 0 || losingPool == 0

	var delta domain.HouseDelta
	delta.RoundsSettled = 1
	delta.WageredQu = r.TotalPoolQu()

	for _, e := range entries {
		settlement := domain.EntrySettlement{
			EntryID: e.ID,
			Address: e.Address,
			StakeQu: e.AmountQu,
		}
		switch {
		case refundAll:
			settlement.Result = domain.ResultPush
			settlement.PayoutQu = e.AmountQu
			settlement.Payout = &domain.Transaction{
				ID:          uuid.NewString(),
				Address:     e.Address,
				Kind:        domain.TxRefund,
				AmountQu:    e.AmountQu,
				Status:      domain.TxConfirmed,
				ExternalRef: r.ID,
				CreatedAt:   time.Now().UTC(),
			}
			delta.RefundsQu += e.AmountQu
		case winnerSide(r.Outcome) == e.Side:
			payout := domain.WinnerPayoutQu(e.AmountQu, winningPool, losingPool, s.cfg.FeeBps)
			settlement.Result = domain.ResultWin
			settlement.PayoutQu = payout
			settlement.Payout = &domain.Transaction{
				ID:          uuid.NewString(),
				Address:     e.Address,
				Kind:        domain.TxPayout,
				AmountQu:    payout,
				Status:      domain.TxConfirmed,
				ExternalRef: r.ID,
				CreatedAt:   time.Now().UTC(),
			}
			delta.PayoutsQu += payout
		default:
			settlement.Result = domain.ResultLoss
		}

		if err := s.ledger.SettleRoundEntry(ctx, settlement); err != nil {
			// Entries already settled replay as no-ops; a real failure leaves
			// the round settled with unpaid entries, surfaced for the
			// operator rather than double-paid.
			return fmt.Errorf("settle entry %d: %w", e.ID, err)
		}
	}

	// The fee is whatever the pool did not pay back out, so
	// payouts + refunds + fee == pool total holds exactly.
	if !refundAll {
		delta.FeesQu = r.TotalPoolQu() - delta.PayoutsQu
	}
	if err := s.house.Apply(ctx, delta); err != nil {
		return fmt.Errorf("apply house delta: %w", err)
	}

	s.logger.InfoContext(ctx, "round_service: round settled",
		slog.String("round_id", r.ID),
		slog.String("outcome", string(r.Outcome)),
		slog.Int64("pool_qu", r.TotalPoolQu()),
		slog.Int64("payouts_qu", delta.PayoutsQu),
		slog.Int64("refunds_qu", delta.RefundsQu),
		slog.Int64("fees_qu", delta.FeesQu),
		slog.Int("entries", len(entries)),
	)
	return nil
}

// fetchPrice pulls a live price and mirrors it into the cache for read-only
// projections. Lock and resolve prices are never taken from the cache: money
// moves on them, so a failed fetch defers the lane to the next tick instead
// of settling on stale data.
func (s *RoundService) fetchPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	point, err := s.chain.CurrentPrice(ctx, pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("round_service: price %s: %w", pair, err)
	}
	if cacheErr := s.prices.SetPrice(ctx, pair, point.Price, point.Timestamp); cacheErr != nil {
		s.logger.WarnContext(ctx, "round_service: price cache write failed",
			slog.String("pair", pair),
			slog.String("error", cacheErr.Error()),
		)
	}
	return point.Price, nil
}

func winnerSide(o domain.Outcome) domain.Side {
	if o == domain.OutcomeDown {
		return domain.SideDown
	}
	return domain.SideUp
}
