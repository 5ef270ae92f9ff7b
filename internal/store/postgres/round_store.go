package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quforge/qubet/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL. All lifecycle
// changes are conditional updates guarded on the expected prior status.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a new RoundStore backed by the given pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundSelectCols = `id, pair, duration_s, status, open_at, close_at,
	up_pool_qu, down_pool_qu, start_price, resolve_price, COALESCE(outcome, '')`

func scanRoundRow(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	var durationS int
	var status, outcome string

	err := row.Scan(
		&r.ID, &r.Pair, &durationS, &status, &r.OpenAt, &r.CloseAt,
		&r.UpPoolQu, &r.DownPoolQu, &r.StartPrice, &r.ResolvePrice, &outcome,
	)
	if err != nil {
		return domain.Round{}, err
	}
	r.Duration = domain.RoundDuration(durationS)
	r.Status = domain.RoundStatus(status)
	r.Outcome = domain.Outcome(outcome)
	return r, nil
}

func collectRoundRows(rows pgx.Rows) ([]domain.Round, error) {
	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRoundRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// Create inserts a new round.
func (s *RoundStore) Create(ctx context.Context, r domain.Round) error {
	const query = `
		INSERT INTO rounds (id, pair, duration_s, status, open_at, close_at, start_price, resolve_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Pair, int(r.Duration), string(r.Status),
		r.OpenAt, r.CloseAt, r.StartPrice, r.ResolvePrice)
	if err != nil {
		return fmt.Errorf("postgres: create round %s: %w", r.ID, err)
	}
	return nil
}

// GetByID retrieves a single round.
func (s *RoundStore) GetByID(ctx context.Context, id string) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds WHERE id = $1`, id)

	r, err := scanRoundRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: get round %s: %w", id, err)
	}
	return r, nil
}

// GetActive returns the lane's currently active round.
func (s *RoundStore) GetActive(ctx context.Context, pair string, d domain.RoundDuration) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE pair = $1 AND duration_s = $2 AND status = 'active'`, pair, int(d))

	r, err := scanRoundRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: get active round %s/%d: %w", pair, d, err)
	}
	return r, nil
}

// List returns rounds matching the filter, newest first.
func (s *RoundStore) List(ctx context.Context, f domain.RoundFilter, opts domain.ListOpts) ([]domain.Round, error) {
	query := `SELECT ` + roundSelectCols + ` FROM rounds WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Pair != "" {
		query += fmt.Sprintf(" AND pair = $%d", argIdx)
		args = append(args, f.Pair)
		argIdx++
	}
	if f.Duration != 0 {
		query += fmt.Sprintf(" AND duration_s = $%d", argIdx)
		args = append(args, int(f.Duration))
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}

	query += " ORDER BY close_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	defer rows.Close()

	return collectRoundRows(rows)
}

// ListByStatus returns all rounds in the given status, oldest close first.
func (s *RoundStore) ListByStatus(ctx context.Context, status domain.RoundStatus) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status = $1 ORDER BY close_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds by status %s: %w", status, err)
	}
	defer rows.Close()

	return collectRoundRows(rows)
}

// Transition moves the round from -> to when the current status matches.
func (s *RoundStore) Transition(ctx context.Context, id string, from, to domain.RoundStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("postgres: transition round %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Lock records the start price while moving active -> locked.
func (s *RoundStore) Lock(ctx context.Context, id string, startPrice decimal.Decimal) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = 'locked', start_price = $2
		 WHERE id = $1 AND status = 'active'`, id, startPrice)
	if err != nil {
		return false, fmt.Errorf("postgres: lock round %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Resolve records the resolve price and outcome while moving locked -> resolved.
func (s *RoundStore) Resolve(ctx context.Context, id string, price decimal.Decimal, out domain.Outcome) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = 'resolved', resolve_price = $2, outcome = $3
		 WHERE id = $1 AND status = 'locked'`, id, price, string(out))
	if err != nil {
		return false, fmt.Errorf("postgres: resolve round %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListEntries returns all entries of a round in placement order.
func (s *RoundStore) ListEntries(ctx context.Context, roundID string) ([]domain.RoundEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, address, side, amount_qu, payout_qu, created_at
		 FROM round_entries WHERE round_id = $1 ORDER BY id ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries %s: %w", roundID, err)
	}
	defer rows.Close()

	var entries []domain.RoundEntry
	for rows.Next() {
		var e domain.RoundEntry
		var side string
		if err := rows.Scan(&e.ID, &e.RoundID, &e.Address, &side, &e.AmountQu, &e.PayoutQu, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Side = domain.Side(side)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddSnapshot records a price observation for a round.
func (s *RoundStore) AddSnapshot(ctx context.Context, snap domain.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_snapshots (round_id, price, source, ts)
		 VALUES ($1, $2, $3, $4)`,
		snap.RoundID, snap.Price, snap.Source, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: add snapshot %s: %w", snap.RoundID, err)
	}
	return nil
}

// ListSnapshots returns a round's price observations in capture order.
func (s *RoundStore) ListSnapshots(ctx context.Context, roundID string) ([]domain.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, price, source, ts
		 FROM price_snapshots WHERE round_id = $1 ORDER BY ts ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s: %w", roundID, err)
	}
	defer rows.Close()

	var snaps []domain.PriceSnapshot
	for rows.Next() {
		var p domain.PriceSnapshot
		if err := rows.Scan(&p.ID, &p.RoundID, &p.Price, &p.Source, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, p)
	}
	return snaps, rows.Err()
}

// OpenPoolQu sums the pools of all non-terminal rounds.
func (s *RoundStore) OpenPoolQu(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(up_pool_qu + down_pool_qu), 0)
		 FROM rounds WHERE status NOT IN ('settled')`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: open pool: %w", err)
	}
	return total, nil
}

// ListSettledBefore returns settled rounds closed before the cutoff.
func (s *RoundStore) ListSettledBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Round, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status = 'settled' AND close_at < $1
		 ORDER BY close_at ASC
		 LIMIT $2 OFFSET $3`, cutoff, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled before: %w", err)
	}
	defer rows.Close()

	return collectRoundRows(rows)
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
