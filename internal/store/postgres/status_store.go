package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quforge/qubet/internal/domain"
)

// StatusStore implements domain.StatusStore over the system_status key-value
// table.
type StatusStore struct {
	pool *pgxpool.Pool
}

// NewStatusStore creates a new StatusStore backed by the given pool.
func NewStatusStore(pool *pgxpool.Pool) *StatusStore {
	return &StatusStore{pool: pool}
}

// Set upserts a status value.
func (s *StatusStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_status (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("postgres: set status %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key, or ErrNotFound.
func (s *StatusStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM system_status WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get status %s: %w", key, err)
	}
	return value, nil
}

// StorageSizeBytes returns the size of the current database.
func (s *StatusStore) StorageSizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx,
		`SELECT pg_database_size(current_database())`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("postgres: storage size: %w", err)
	}
	return size, nil
}

// Compile-time interface check.
var _ domain.StatusStore = (*StatusStore)(nil)
