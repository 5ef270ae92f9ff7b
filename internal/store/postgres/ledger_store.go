package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quforge/qubet/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL transactions.
// Every method commits all of its effects or none of them, so a debit can
// never be recorded without its matching transaction row.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const insertTxQuery = `
	INSERT INTO transactions (id, address, kind, amount_qu, status, external_ref, destination, created_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`

func insertTx(ctx context.Context, q executor, t domain.Transaction) error {
	_, err := q.Exec(ctx, insertTxQuery,
		t.ID, t.Address, string(t.Kind), t.AmountQu, string(t.Status),
		t.ExternalRef, t.Destination, t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The partial unique index on deposit external_ref caught a
			// replayed hash.
			return domain.ErrDuplicateDeposit
		}
		return fmt.Errorf("postgres: insert transaction %s: %w", t.ID, err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *LedgerStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// CreditWithTx inserts tx and applies d as one unit.
func (s *LedgerStore) CreditWithTx(ctx context.Context, t domain.Transaction, d domain.BalanceDelta) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertTx(ctx, tx, t); err != nil {
			return err
		}
		return applyDeltaTx(ctx, tx, t.Address, d)
	})
}

// ReserveWithdrawal debits the balance and records the pending withdrawal in
// one unit. The debit fails with ErrInsufficientBalance before any row is
// written when the account cannot cover the amount.
func (s *LedgerStore) ReserveWithdrawal(ctx context.Context, t domain.Transaction) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := applyDeltaTx(ctx, tx, t.Address, domain.BalanceDelta{
			BalanceQu: -t.AmountQu,
		}); err != nil {
			return err
		}
		return insertTx(ctx, tx, t)
	})
}

// claimWithdrawal flips a pending withdrawal to the given terminal status and
// returns its address and amount. Reports false when the transaction was not
// pending (already claimed by a concurrent invocation).
func claimWithdrawal(ctx context.Context, tx pgx.Tx, txID string, to domain.TransactionStatus) (string, int64, bool, error) {
	var address string
	var amount int64
	err := tx.QueryRow(ctx,
		`UPDATE transactions SET status = $2
		 WHERE id = $1 AND kind = 'withdrawal' AND status = 'pending'
		 RETURNING address, amount_qu`, txID, string(to)).Scan(&address, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("postgres: claim withdrawal %s: %w", txID, err)
	}
	return address, amount, true, nil
}

// ConfirmWithdrawal marks a pending withdrawal confirmed and bumps the
// withdrawn total. The balance was already debited at reservation time.
func (s *LedgerStore) ConfirmWithdrawal(ctx context.Context, txID string) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		address, amount, ok, err := claimWithdrawal(ctx, tx, txID, domain.TxConfirmed)
		if err != nil || !ok {
			return err
		}
		applied = true
		return applyDeltaTx(ctx, tx, address, domain.BalanceDelta{WithdrawnQu: amount})
	})
	return applied, err
}

// FailWithdrawal marks a pending withdrawal failed and applies the
// compensating credit that restores the reserved funds.
func (s *LedgerStore) FailWithdrawal(ctx context.Context, txID string) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		address, amount, ok, err := claimWithdrawal(ctx, tx, txID, domain.TxFailed)
		if err != nil || !ok {
			return err
		}
		applied = true
		return applyDeltaTx(ctx, tx, address, domain.BalanceDelta{BalanceQu: amount})
	})
	return applied, err
}

// PlaceRoundBet grows the round pool, debits the stake, and records the
// wager and entry — all guarded on the round still being active.
func (s *LedgerStore) PlaceRoundBet(ctx context.Context, e domain.RoundEntry, wager domain.Transaction) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		poolCol := "up_pool_qu"
		if e.Side == domain.SideDown {
			poolCol = "down_pool_qu"
		}
		tag, err := tx.Exec(ctx,
			`UPDATE rounds SET `+poolCol+` = `+poolCol+` + $2
			 WHERE id = $1 AND status = 'active'`, e.RoundID, e.AmountQu)
		if err != nil {
			return fmt.Errorf("postgres: grow pool %s: %w", e.RoundID, err)
		}
		if tag.RowsAffected() == 0 {
			return roundBetFailure(ctx, tx, e.RoundID)
		}

		if err := applyDeltaTx(ctx, tx, e.Address, domain.BalanceDelta{
			BalanceQu: -e.AmountQu,
			WageredQu: e.AmountQu,
		}); err != nil {
			return err
		}

		if err := insertTx(ctx, tx, wager); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO round_entries (round_id, address, side, amount_qu, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.RoundID, e.Address, string(e.Side), e.AmountQu, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert entry %s: %w", e.RoundID, err)
		}
		return nil
	})
}

func roundBetFailure(ctx context.Context, tx pgx.Tx, roundID string) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM rounds WHERE id = $1)`, roundID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: inspect round %s: %w", roundID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrRoundClosed
}

// recordResult updates the win/loss/push counters and streaks in a single
// statement.
func recordResult(ctx context.Context, tx pgx.Tx, address string, res domain.GameResult) error {
	var query string
	switch res {
	case domain.ResultWin:
		query = `UPDATE accounts SET
			wins        = wins + 1,
			streak      = GREATEST(streak, 0) + 1,
			best_streak = GREATEST(best_streak, GREATEST(streak, 0) + 1)
			WHERE address = $1`
	case domain.ResultLoss:
		query = `UPDATE accounts SET
			losses = losses + 1,
			streak = LEAST(streak, 0) - 1
			WHERE address = $1`
	case domain.ResultPush:
		query = `UPDATE accounts SET pushes = pushes + 1 WHERE address = $1`
	default:
		return fmt.Errorf("postgres: unknown game result %q", res)
	}

	if _, err := tx.Exec(ctx, query, address); err != nil {
		return fmt.Errorf("postgres: record result %s: %w", address, err)
	}
	return nil
}

// SettleRoundEntry applies one entry settlement. Guarded on the entry not
// having a payout yet, so replaying a settled round is a no-op.
func (s *LedgerStore) SettleRoundEntry(ctx context.Context, es domain.EntrySettlement) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE round_entries SET payout_qu = $2
			 WHERE id = $1 AND payout_qu IS NULL`, es.EntryID, es.PayoutQu)
		if err != nil {
			return fmt.Errorf("postgres: set entry payout %d: %w", es.EntryID, err)
		}
		if tag.RowsAffected() == 0 {
			// Already settled.
			return nil
		}

		if es.Payout != nil {
			if err := insertTx(ctx, tx, *es.Payout); err != nil {
				return err
			}
		}

		d := settlementDelta(es.Result, es.PayoutQu, es.StakeQu)
		if err := applyDeltaTx(ctx, tx, es.Address, d); err != nil {
			return err
		}
		return recordResult(ctx, tx, es.Address, es.Result)
	})
}

// settlementDelta maps a settlement to its account adjustment. Winners are
// credited their full payout; pushes their refunded stake; losers get no
// credit, only the lost total bump.
func settlementDelta(res domain.GameResult, payoutQu, stakeQu int64) domain.BalanceDelta {
	switch res {
	case domain.ResultWin:
		return domain.BalanceDelta{BalanceQu: payoutQu, WonQu: payoutQu}
	case domain.ResultPush:
		return domain.BalanceDelta{BalanceQu: payoutQu, RefundedQu: payoutQu}
	default:
		return domain.BalanceDelta{LostQu: stakeQu}
	}
}

// JoinMarket debits the stake and records the wager and escrow, guarded on
// the market still being joinable. FOR SHARE on the market row serializes
// joins against a concurrent close transition.
func (s *LedgerStore) JoinMarket(ctx context.Context, es domain.Escrow, wager domain.Transaction) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM markets WHERE id = $1 FOR SHARE`, es.MarketID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: inspect market %s: %w", es.MarketID, err)
		}
		switch domain.MarketStatus(status) {
		case domain.MarketOpen, domain.MarketClosingSoon:
		default:
			return domain.ErrMarketClosed
		}

		if err := applyDeltaTx(ctx, tx, es.Address, domain.BalanceDelta{
			BalanceQu: -es.AmountQu,
			WageredQu: es.AmountQu,
		}); err != nil {
			return err
		}

		if err := insertTx(ctx, tx, wager); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO escrows (id, market_id, address, option, amount_qu, status, join_tx_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			es.ID, es.MarketID, es.Address, es.Option, es.AmountQu,
			string(domain.EscrowHeld), wager.ID, es.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert escrow %s: %w", es.ID, err)
		}
		return nil
	})
}

// SettleEscrow moves an escrow to its terminal status, guarded on held so a
// replay is a no-op, and applies the matching account credit and statistics.
func (s *LedgerStore) SettleEscrow(ctx context.Context, es domain.EscrowSettlement) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE escrows SET status = $2
			 WHERE id = $1 AND status = 'held'`, es.EscrowID, string(es.Status))
		if err != nil {
			return fmt.Errorf("postgres: settle escrow %s: %w", es.EscrowID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if es.Payout != nil {
			if err := insertTx(ctx, tx, *es.Payout); err != nil {
				return err
			}
		}

		switch es.Status {
		case domain.EscrowReleased:
			if err := applyDeltaTx(ctx, tx, es.Address, domain.BalanceDelta{
				BalanceQu: es.PayoutQu,
				WonQu:     es.PayoutQu,
			}); err != nil {
				return err
			}
			return recordResult(ctx, tx, es.Address, domain.ResultWin)
		case domain.EscrowLost:
			if err := applyDeltaTx(ctx, tx, es.Address, domain.BalanceDelta{
				LostQu: es.StakeQu,
			}); err != nil {
				return err
			}
			return recordResult(ctx, tx, es.Address, domain.ResultLoss)
		case domain.EscrowRefunded:
			return applyDeltaTx(ctx, tx, es.Address, domain.BalanceDelta{
				BalanceQu:  es.PayoutQu,
				RefundedQu: es.PayoutQu,
			})
		default:
			return fmt.Errorf("postgres: invalid terminal escrow status %q", es.Status)
		}
	})
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
