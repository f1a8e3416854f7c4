// Package sqlitestore implements compose.CheckPointStore on top of SQLite via the
// pure-Go modernc.org/sqlite driver, for single-binary or offline operation.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const defaultTable = "checkpoints"

// Store implements compose.CheckPointStore with one row per checkpoint id.
type Store struct {
	db        *sql.DB
	tableName string
}

// Option configures a Store.
type Option func(*Store)

// WithTableName overrides the default "checkpoints" table name.
func WithTableName(name string) Option {
	return func(s *Store) { s.tableName = name }
}

// Open opens (creating if necessary) a SQLite database at path and ensures its schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}

	s := &Store{db: db, tableName: defaultTable}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.tableName))
	if err != nil {
		return fmt.Errorf("sqlitestore: ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = ?", s.tableName),
		checkPointID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlitestore: get %s: %w", checkPointID, err)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, s.tableName), checkPointID, checkPoint)
	if err != nil {
		return fmt.Errorf("sqlitestore: set %s: %w", checkPointID, err)
	}
	return nil
}
