package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quforge/qubet/internal/domain"
)

// MarketConfig holds the escrow market parameters.
type MarketConfig struct {
	FeeBps   int64
	MinBetQu int64
	MaxBetQu int64
	// Lookahead is how far ahead of close/resolve the advisory
	// closing_soon/resolving_soon flags are raised.
	Lookahead time.Duration
}

// MarketService runs the escrow-based prediction markets: creation, joining,
// lifecycle flags, and resolution.
type MarketService struct {
	markets domain.MarketStore
	ledger  domain.LedgerStore
	house   domain.HouseStore
	cfg     MarketConfig
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	ledger domain.LedgerStore,
	house domain.HouseStore,
	cfg MarketConfig,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		ledger:  ledger,
		house:   house,
		cfg:     cfg,
		logger:  logger,
	}
}

// CreateMarket opens a new multi-option market. Operator-only.
func (s *MarketService) CreateMarket(ctx context.Context, question string, options []string, closeAt, resolveAt time.Time) (domain.Market, error) {
	now := time.Now().UTC()
	switch {
	case question == "":
		return domain.Market{}, fmt.Errorf("market_service: %w: question required", domain.ErrValidation)
	case len(options) < 2:
		return domain.Market{}, fmt.Errorf("market_service: %w: at least two options required", domain.ErrValidation)
	case !closeAt.After(now):
		return domain.Market{}, fmt.Errorf("market_service: %w: close time must be in the future", domain.ErrValidation)
	case !resolveAt.After(closeAt):
		return domain.Market{}, fmt.Errorf("market_service: %w: resolve time must follow close time", domain.ErrValidation)
	}

	m := domain.Market{
		ID:             uuid.NewString(),
		Question:       question,
		Options:        options,
		Status:         domain.MarketOpen,
		CloseAt:        closeAt,
		ResolveAt:      resolveAt,
		ResolvedOption: -1,
		CreatedAt:      now,
	}
	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("question", question),
		slog.Int("options", len(options)),
	)
	return m, nil
}

// Join escrows amountQu on one option of a joinable market. The debit, wager
// transaction, and escrow row commit as a single unit.
func (s *MarketService) Join(ctx context.Context, address, marketID string, option int, amountQu int64) (domain.Escrow, error) {
	if amountQu < s.cfg.MinBetQu || amountQu > s.cfg.MaxBetQu {
		return domain.Escrow{}, fmt.Errorf("market_service: %w: stake must be between %d and %d qu",
			domain.ErrValidation, s.cfg.MinBetQu, s.cfg.MaxBetQu)
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Escrow{}, fmt.Errorf("market_service: get market %q: %w", marketID, err)
	}
	if option < 0 || option >= len(m.Options) {
		return domain.Escrow{}, fmt.Errorf("market_service: %w: option %d out of range", domain.ErrValidation, option)
	}

	wagerID := uuid.NewString()
	es := domain.Escrow{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		Address:   address,
		Option:    option,
		AmountQu:  amountQu,
		Status:    domain.EscrowHeld,
		JoinTxID:  wagerID,
		CreatedAt: time.Now().UTC(),
	}
	wager := domain.Transaction{
		ID:          wagerID,
		Address:     address,
		Kind:        domain.TxWager,
		AmountQu:    amountQu,
		Status:      domain.TxConfirmed,
		ExternalRef: marketID,
		CreatedAt:   es.CreatedAt,
	}
	if err := s.ledger.JoinMarket(ctx, es, wager); err != nil {
		return domain.Escrow{}, fmt.Errorf("market_service: join market: %w", err)
	}

	s.logger.InfoContext(ctx, "market_service: escrow placed",
		slog.String("market_id", marketID),
		slog.String("address", address),
		slog.Int("option", option),
		slog.Int64("amount_qu", amountQu),
	)
	return es, nil
}

// GetMarket returns a market and its escrows.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, []domain.Escrow, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("market_service: get market %q: %w", id, err)
	}
	escrows, err := s.markets.ListEscrows(ctx, id)
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("market_service: list escrows %q: %w", id, err)
	}
	return m, escrows, nil
}

// ListMarkets returns markets filtered by status; empty status lists all.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	return markets, nil
}

// voidOverdueAfter is how long past its resolve time an unresolved market
// waits before the scheduler voids it and refunds every escrow.
const voidOverdueAfter = 24 * time.Hour

// ProcessMarkets advances market lifecycle state for the tick at now: raises
// the advisory closing_soon/resolving_soon flags inside the lookahead
// window, closes markets whose close time has passed, and voids markets the
// operator left unresolved past the overdue grace. Resolution itself stays
// operator-driven.
func (s *MarketService) ProcessMarkets(ctx context.Context, now time.Time) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	closing, err := s.markets.ListClosingSoon(ctx, now, s.cfg.Lookahead)
	record(err)
	for _, m := range closing {
		_, err := s.markets.Transition(ctx, m.ID, domain.MarketOpen, domain.MarketClosingSoon)
		record(err)
	}

	due, err := s.markets.ListCloseDue(ctx, now)
	record(err)
	for _, m := range due {
		applied, err := s.markets.Transition(ctx, m.ID, m.Status, domain.MarketClosed)
		record(err)
		if applied {
			s.logger.InfoContext(ctx, "market_service: market closed",
				slog.String("market_id", m.ID),
			)
		}
	}

	resolving, err := s.markets.ListResolvingSoon(ctx, now, s.cfg.Lookahead)
	record(err)
	for _, m := range resolving {
		_, err := s.markets.Transition(ctx, m.ID, domain.MarketClosed, domain.MarketResolvingSoon)
		record(err)
	}

	overdue, err := s.markets.ListResolveDue(ctx, now.Add(-voidOverdueAfter))
	record(err)
	for _, m := range overdue {
		if _, err := s.Void(ctx, m.ID); err != nil {
			record(err)
			continue
		}
		s.logger.WarnContext(ctx, "market_service: overdue market voided",
			slog.String("market_id", m.ID),
			slog.Time("resolve_at", m.ResolveAt),
		)
	}

	return firstErr
}

// Resolve settles a closed market on the winning option: winners split the
// losing options' escrow pro rata after the fee, losers forfeit their stake.
// If nobody backed the winning option every escrow is refunded instead. The
// guarded transition to resolved claims the market, so concurrent calls
// settle it at most once.
func (s *MarketService) Resolve(ctx context.Context, marketID string, option int) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", marketID, err)
	}
	if option < 0 || option >= len(m.Options) {
		return domain.Market{}, fmt.Errorf("market_service: %w: option %d out of range", domain.ErrValidation, option)
	}
	if m.Status != domain.MarketClosed && m.Status != domain.MarketResolvingSoon {
		return domain.Market{}, fmt.Errorf("market_service: %w: market %s is %s, not closed",
			domain.ErrValidation, marketID, m.Status)
	}

	claimed, err := s.markets.Resolve(ctx, marketID, m.Status, option)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %s: %w", marketID, err)
	}
	if !claimed {
		// Someone else resolved it between the read and the transition.
		current, getErr := s.markets.GetByID(ctx, marketID)
		if getErr != nil {
			return domain.Market{}, fmt.Errorf("market_service: reread market %s: %w", marketID, getErr)
		}
		return current, nil
	}

	if err := s.settleEscrows(ctx, marketID, option, false); err != nil {
		return domain.Market{}, err
	}

	m.Status = domain.MarketResolved
	m.ResolvedOption = option
	s.logger.InfoContext(ctx, "market_service: market resolved",
		slog.String("market_id", marketID),
		slog.Int("option", option),
	)
	return m, nil
}

// Void cancels a market and refunds every held escrow in full. Allowed from
// any non-terminal state.
func (s *MarketService) Void(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", marketID, err)
	}
	if m.Status.Terminal() {
		return domain.Market{}, fmt.Errorf("market_service: %w: market %s already %s",
			domain.ErrValidation, marketID, m.Status)
	}

	claimed, err := s.markets.Transition(ctx, marketID, m.Status, domain.MarketVoided)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: void market %s: %w", marketID, err)
	}
	if !claimed {
		current, getErr := s.markets.GetByID(ctx, marketID)
		if getErr != nil {
			return domain.Market{}, fmt.Errorf("market_service: reread market %s: %w", marketID, getErr)
		}
		return current, nil
	}

	if err := s.settleEscrows(ctx, marketID, -1, true); err != nil {
		return domain.Market{}, err
	}

	m.Status = domain.MarketVoided
	s.logger.InfoContext(ctx, "market_service: market voided",
		slog.String("market_id", marketID),
	)
	return m, nil
}

// settleEscrows disposes of every held escrow on the market. With voided
// true (or when the winning option has no backers) everything is refunded;
// otherwise winners are paid pro rata from the losing pool after the fee.
// Escrows already settled replay as no-ops.
func (s *MarketService) settleEscrows(ctx context.Context, marketID string, winningOption int, voided bool) error {
	escrows, err := s.markets.ListEscrows(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market_service: list escrows %q: %w", marketID, err)
	}

	var winningPool, losingPool int64
	for _, e := range escrows {
		if e.Status != domain.EscrowHeld {
			continue
		}
		if e.Option == winningOption {
			winningPool += e.AmountQu
		} else {
			losingPool += e.AmountQu
		}
	}
	refundAll := voided || winningPool == 0 || losingPool == 0

	var delta domain.HouseDelta
	delta.MarketsResolved = 1
	var paidOut int64

	for _, e := range escrows {
		if e.Status != domain.EscrowHeld {
			continue
		}
		settlement := domain.EscrowSettlement{
			EscrowID: e.ID,
			Address:  e.Address,
			StakeQu:  e.AmountQu,
		}
		switch {
		case refundAll:
			settlement.Status = domain.EscrowRefunded
			settlement.PayoutQu = e.AmountQu
			settlement.Payout = &domain.Transaction{
				ID:          uuid.NewString(),
				Address:     e.Address,
				Kind:        domain.TxRefund,
				AmountQu:    e.AmountQu,
				Status:      domain.TxConfirmed,
				ExternalRef: marketID,
				CreatedAt:   time.Now().UTC(),
			}
			delta.RefundsQu += e.AmountQu
		case e.Option == winningOption:
			payout := domain.WinnerPayoutQu(e.AmountQu, winningPool, losingPool, s.cfg.FeeBps)
			settlement.Status = domain.EscrowReleased
			settlement.PayoutQu = payout
			settlement.Payout = &domain.Transaction{
				ID:          uuid.NewString(),
				Address:     e.Address,
				Kind:        domain.TxPayout,
				AmountQu:    payout,
				Status:      domain.TxConfirmed,
				ExternalRef: marketID,
				CreatedAt:   time.Now().UTC(),
			}
			delta.PayoutsQu += payout
			paidOut += payout
		default:
			settlement.Status = domain.EscrowLost
		}

		if err := s.ledger.SettleEscrow(ctx, settlement); err != nil {
			return fmt.Errorf("market_service: settle escrow %s: %w", e.ID, err)
		}
		delta.WageredQu += e.AmountQu
	}

	if !refundAll {
		delta.FeesQu = winningPool + losingPool - paidOut
	}
	if err := s.house.Apply(ctx, delta); err != nil {
		return fmt.Errorf("market_service: apply house delta: %w", err)
	}
	return nil
}
