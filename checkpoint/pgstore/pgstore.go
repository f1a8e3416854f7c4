// Package pgstore implements compose.CheckPointStore on top of PostgreSQL via pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "checkpoints"

// DBPool is the subset of *pgxpool.Pool the store needs, narrowed so tests can
// substitute a pgxmock pool without a live database.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements compose.CheckPointStore with one row per checkpoint id.
type Store struct {
	pool      DBPool
	tableName string
}

// Option configures a Store.
type Option func(*Store)

// WithTableName overrides the default "checkpoints" table name.
func WithTableName(name string) Option {
	return func(s *Store) { s.tableName = name }
}

// New wraps an existing pgx pool. Call EnsureSchema once before first use.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	return newWithPool(pool, opts...)
}

// newWithPool accepts any DBPool, including a pgxmock pool for tests.
func newWithPool(pool DBPool, opts ...Option) *Store {
	s := &Store{pool: pool, tableName: defaultTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the checkpoints table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         text PRIMARY KEY,
			data       bytea NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, s.tableName))
	if err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = $1", s.tableName),
		checkPointID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgstore: get %s: %w", checkPointID, err)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, s.tableName), checkPointID, checkPoint)
	if err != nil {
		return fmt.Errorf("pgstore: set %s: %w", checkPointID, err)
	}
	return nil
}
