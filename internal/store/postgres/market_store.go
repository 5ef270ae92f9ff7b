package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quforge/qubet/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Lifecycle
// changes are conditional updates guarded on the expected prior status, and
// all count aggregations run live against the tables.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, question, options, status, close_at, resolve_at, resolved_option, created_at`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.Question, &m.Options, &status,
		&m.CloseAt, &m.ResolveAt, &m.ResolvedOption, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

func collectMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (id, question, options, status, close_at, resolve_at, resolved_option, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Options, string(m.Status),
		m.CloseAt, m.ResolveAt, m.ResolvedOption, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a single market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)

	m, err := scanMarketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets filtered by status, newest close first.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + marketSelectCols + ` FROM markets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY close_at DESC LIMIT $2 OFFSET $3`
		args = append(args, string(status), limit, opts.Offset)
	} else {
		query += ` ORDER BY close_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	return collectMarketRows(rows)
}

// Transition moves the market from -> to when the current status matches.
func (s *MarketStore) Transition(ctx context.Context, id string, from, to domain.MarketStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("postgres: transition market %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Resolve records the winning option while moving from -> resolved.
func (s *MarketStore) Resolve(ctx context.Context, id string, from domain.MarketStatus, option int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = 'resolved', resolved_option = $3
		 WHERE id = $1 AND status = $2`, id, string(from), option)
	if err != nil {
		return false, fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListClosingSoon returns open markets whose close time falls within
// (now, now+window].
func (s *MarketStore) ListClosingSoon(ctx context.Context, now time.Time, window time.Duration) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status IN ('open', 'closing_soon') AND close_at > $1 AND close_at <= $2
		 ORDER BY close_at ASC`, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("postgres: list closing soon: %w", err)
	}
	defer rows.Close()

	return collectMarketRows(rows)
}

// ListResolvingSoon returns closed markets whose resolve time falls within
// (now, now+window].
func (s *MarketStore) ListResolvingSoon(ctx context.Context, now time.Time, window time.Duration) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status IN ('closed', 'resolving_soon') AND resolve_at > $1 AND resolve_at <= $2
		 ORDER BY resolve_at ASC`, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolving soon: %w", err)
	}
	defer rows.Close()

	return collectMarketRows(rows)
}

// ListCloseDue returns joinable markets whose close time has passed.
func (s *MarketStore) ListCloseDue(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status IN ('open', 'closing_soon') AND close_at <= $1
		 ORDER BY close_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list close due: %w", err)
	}
	defer rows.Close()

	return collectMarketRows(rows)
}

// ListResolveDue returns closed markets whose resolve time has passed.
func (s *MarketStore) ListResolveDue(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status IN ('closed', 'resolving_soon') AND resolve_at <= $1
		 ORDER BY resolve_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolve due: %w", err)
	}
	defer rows.Close()

	return collectMarketRows(rows)
}

// StatusCounts aggregates live market counts by status.
func (s *MarketStore) StatusCounts(ctx context.Context) (map[domain.MarketStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM markets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: market status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.MarketStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan status count: %w", err)
		}
		counts[domain.MarketStatus(status)] = n
	}
	return counts, rows.Err()
}

// ListEscrows returns all escrows of a market in placement order.
func (s *MarketStore) ListEscrows(ctx context.Context, marketID string) ([]domain.Escrow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, address, option, amount_qu, status, join_tx_id, created_at
		 FROM escrows WHERE market_id = $1 ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list escrows %s: %w", marketID, err)
	}
	defer rows.Close()

	var escrows []domain.Escrow
	for rows.Next() {
		var e domain.Escrow
		var status string
		if err := rows.Scan(&e.ID, &e.MarketID, &e.Address, &e.Option, &e.AmountQu, &status, &e.JoinTxID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan escrow: %w", err)
		}
		e.Status = domain.EscrowStatus(status)
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}

// EscrowStatusCounts aggregates live escrow counts by status.
func (s *MarketStore) EscrowStatusCounts(ctx context.Context) (map[domain.EscrowStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM escrows GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: escrow status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EscrowStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan escrow count: %w", err)
		}
		counts[domain.EscrowStatus(status)] = n
	}
	return counts, rows.Err()
}

// HeldEscrowQu sums all currently held escrow.
func (s *MarketStore) HeldEscrowQu(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_qu), 0) FROM escrows WHERE status = 'held'`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: held escrow: %w", err)
	}
	return total, nil
}

// ListTerminalBefore returns resolved/voided markets whose resolve time
// passed before the cutoff.
func (s *MarketStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status IN ('resolved', 'voided') AND resolve_at < $1
		 ORDER BY resolve_at ASC
		 LIMIT $2 OFFSET $3`, cutoff, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal before: %w", err)
	}
	defer rows.Close()

	return collectMarketRows(rows)
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
