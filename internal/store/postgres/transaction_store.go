package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quforge/qubet/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// It is read-only; writes go through LedgerStore so they stay atomic with
// the balance mutations they belong to.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id, address, kind, amount_qu, status,
	COALESCE(external_ref, ''), COALESCE(destination, ''), created_at`

func scanTxRow(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	var kind, status string
	err := row.Scan(
		&t.ID, &t.Address, &kind, &t.AmountQu, &status,
		&t.ExternalRef, &t.Destination, &t.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.TransactionStatus(status)
	return t, nil
}

// GetByID retrieves a single transaction.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM transactions WHERE id = $1`, id)

	t, err := scanTxRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return t, nil
}

// ListByAddress returns the account's transactions, newest first.
func (s *TransactionStore) ListByAddress(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE address = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, address, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", address, err)
	}
	defer rows.Close()

	return collectTxRows(rows)
}

// GetDeposit looks up a deposit by its on-chain transfer hash.
func (s *TransactionStore) GetDeposit(ctx context.Context, txHash string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE kind = 'deposit' AND external_ref = $1`, txHash)

	t, err := scanTxRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get deposit %s: %w", txHash, err)
	}
	return t, nil
}

// ListPendingWithdrawals returns withdrawals awaiting on-chain broadcast,
// oldest first so the scheduler drains them in order.
func (s *TransactionStore) ListPendingWithdrawals(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE kind = 'withdrawal' AND status = 'pending'
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending withdrawals: %w", err)
	}
	defer rows.Close()

	return collectTxRows(rows)
}

func collectTxRows(rows pgx.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTxRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
