package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBStore is a Store backed by an embedded LevelDB database.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// NewLevelDB wraps an already opened database.
func NewLevelDB(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func (l *LevelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	return v, nil
}

func (l *LevelDBStore) Put(ctx context.Context, key string, value []byte) error {
	if err := l.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("leveldb put %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) Delete(ctx context.Context, key string) error {
	if err := l.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb delete %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}
