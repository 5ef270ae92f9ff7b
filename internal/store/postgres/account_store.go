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

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `address, balance_qu,
	total_deposited_qu, total_withdrawn_qu, total_wagered_qu,
	total_won_qu, total_refunded_qu, total_lost_qu,
	wins, losses, pushes, streak, best_streak, frozen, created_at`

func scanAccountRow(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.Address, &a.BalanceQu,
		&a.Totals.DepositedQu, &a.Totals.WithdrawnQu, &a.Totals.WageredQu,
		&a.Totals.WonQu, &a.Totals.RefundedQu, &a.Totals.LostQu,
		&a.Wins, &a.Losses, &a.Pushes, &a.Streak, &a.BestStreak,
		&a.Frozen, &a.CreatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// Create inserts a new zero-balance account with its API token.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (address, api_token, created_at)
		VALUES ($1, $2, $3)`

	_, err := s.pool.Exec(ctx, query, a.Address, a.APIToken, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create account %s: %w", a.Address, err)
	}
	return nil
}

// GetByAddress retrieves an account. The API token is never read back.
func (s *AccountStore) GetByAddress(ctx context.Context, address string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE address = $1`, address)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", address, err)
	}
	return a, nil
}

// GetByToken resolves an API token to its owning account.
func (s *AccountStore) GetByToken(ctx context.Context, token string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE api_token = $1`, token)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account by token: %w", err)
	}
	return a, nil
}

// applyDeltaTx runs the guarded single-statement balance adjustment inside
// the given executor (pool or transaction). The WHERE clause enforces both
// the non-negative balance invariant and the freeze flag; the caller
// disambiguates a zero row count afterwards.
func applyDeltaTx(ctx context.Context, q executor, address string, d domain.BalanceDelta) error {
	const query = `
		UPDATE accounts SET
			balance_qu         = balance_qu + $2,
			total_deposited_qu = total_deposited_qu + $3,
			total_withdrawn_qu = total_withdrawn_qu + $4,
			total_wagered_qu   = total_wagered_qu + $5,
			total_won_qu       = total_won_qu + $6,
			total_refunded_qu  = total_refunded_qu + $7,
			total_lost_qu      = total_lost_qu + $8
		WHERE address = $1 AND NOT frozen AND balance_qu + $2 >= 0`

	tag, err := q.Exec(ctx, query, address,
		d.BalanceQu, d.DepositedQu, d.WithdrawnQu, d.WageredQu,
		d.WonQu, d.RefundedQu, d.LostQu,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply delta %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return classifyDeltaFailure(ctx, q, address)
	}
	return nil
}

// classifyDeltaFailure distinguishes why a guarded balance update matched no
// rows: missing account, frozen account, or insufficient balance.
func classifyDeltaFailure(ctx context.Context, q executor, address string) error {
	var frozen bool
	err := q.QueryRow(ctx,
		`SELECT frozen FROM accounts WHERE address = $1`, address).Scan(&frozen)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: inspect account %s: %w", address, err)
	}
	if frozen {
		return domain.ErrAccountFrozen
	}
	return domain.ErrInsufficientBalance
}

// ApplyDelta atomically adjusts balance and totals for one account.
func (s *AccountStore) ApplyDelta(ctx context.Context, address string, d domain.BalanceDelta) error {
	return applyDeltaTx(ctx, s.pool, address, d)
}

// SetFrozen halts or resumes mutation of the account.
func (s *AccountStore) SetFrozen(ctx context.Context, address string, frozen bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET frozen = $2 WHERE address = $1`, address, frozen)
	if err != nil {
		return fmt.Errorf("postgres: set frozen %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Leaderboard returns accounts ordered by net winnings descending.
func (s *AccountStore) Leaderboard(ctx context.Context, limit int) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts
		 ORDER BY total_won_qu - total_lost_qu DESC, wins DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Count returns the total number of accounts.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count accounts: %w", err)
	}
	return n, nil
}

// executor abstracts pgxpool.Pool and pgx.Tx for statements shared between
// standalone and transactional paths.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
