package notifications

import (
	"context"
	"errors"
	"fmt"

	"encore.dev/storage/sqldb"

	"lunnar/pkg/kvstore"
)

// Database backing the default notification store.
var db = sqldb.NewDatabase("notifications", sqldb.DatabaseConfig{
	Migrations: "./migrations",
})

// sqlStore implements kvstore.Store over the kv table.
type sqlStore struct {
	db *sqldb.Database
}

func newSQLStore(db *sqldb.Database) *sqlStore {
	return &sqlStore{db: db}
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sqldb.ErrNoRows) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", key, err)
	}
	return value, nil
}

func (s *sqlStore) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("sql put %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("sql delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; Encore owns the connection pool.
func (s *sqlStore) Close() error {
	return nil
}
