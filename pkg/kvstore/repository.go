package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Repository stores values of type T as JSON under a namespace.
type Repository[T any] struct {
	store Store
	ns    Namespace
}

// NewRepository binds a Store to a namespace for values of type T.
func NewRepository[T any](store Store, ns Namespace) *Repository[T] {
	return &Repository[T]{store: store, ns: ns}
}

// Namespace returns the repository's namespace.
func (r *Repository[T]) Namespace() Namespace {
	return r.ns
}

// Get loads the value stored under key. ok is false when the key is absent.
func (r *Repository[T]) Get(ctx context.Context, key string) (value T, ok bool, err error) {
	data, err := r.store.Get(ctx, r.ns.Key(key))
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if len(data) == 0 {
		return value, false, fmt.Errorf("kvstore: empty value at %s", r.ns.Key(key))
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("kvstore: failed to unmarshal %s: %w", r.ns.Key(key), err)
	}
	return value, true, nil
}

// Put stores value under key.
func (r *Repository[T]) Put(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: failed to marshal %s: %w", r.ns.Key(key), err)
	}
	return r.store.Put(ctx, r.ns.Key(key), data)
}

// Delete removes key. Missing keys are ignored.
func (r *Repository[T]) Delete(ctx context.Context, key string) error {
	return r.store.Delete(ctx, r.ns.Key(key))
}
