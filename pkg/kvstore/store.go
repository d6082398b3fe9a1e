// Package kvstore provides a small typed key-value repository with explicit
// namespacing, backed by pluggable byte-level stores.
//
// Layers:
//   - Store: byte-level Get/Put/Delete against one flat keyspace
//     (memory, LevelDB; service packages add their own, e.g. SQL)
//   - Namespace: a validated key prefix ("notifications/user")
//   - Repository[T]: JSON-encoded values of one type under one namespace
//
// Design Notes:
//   - Every key written through a Repository carries its namespace, so two
//     features sharing one Store never observe each other's keys.
//   - Stores are safe for concurrent use. A Get followed by a Put is not atomic;
//     callers that read-modify-write must serialize themselves.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Store.Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrInvalidNamespace is returned when a namespace part is empty or contains the separator.
var ErrInvalidNamespace = errors.New("kvstore: invalid namespace")

// Separator joins namespace parts and the final key.
const Separator = "/"

// Store is a flat byte-level key-value store.
type Store interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the store.
	Close() error
}

// Namespace is a validated key prefix.
type Namespace struct {
	prefix string
}

// NewNamespace joins parts into a namespace. Each part must be non-empty and
// must not contain Separator.
func NewNamespace(parts ...string) (Namespace, error) {
	if len(parts) == 0 {
		return Namespace{}, fmt.Errorf("%w: no parts", ErrInvalidNamespace)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Namespace{}, fmt.Errorf("%w: empty part", ErrInvalidNamespace)
		}
		if strings.Contains(p, Separator) {
			return Namespace{}, fmt.Errorf("%w: part %q contains %q", ErrInvalidNamespace, p, Separator)
		}
	}
	return Namespace{prefix: strings.Join(parts, Separator)}, nil
}

// MustNamespace is like NewNamespace but panics on invalid input.
// Intended for package-level constants.
func MustNamespace(parts ...string) Namespace {
	ns, err := NewNamespace(parts...)
	if err != nil {
		panic(err)
	}
	return ns
}

// Child returns a nested namespace.
func (n Namespace) Child(part string) (Namespace, error) {
	if n.prefix == "" {
		return NewNamespace(part)
	}
	leaf, err := NewNamespace(part)
	if err != nil {
		return Namespace{}, err
	}
	return Namespace{prefix: n.prefix + Separator + leaf.prefix}, nil
}

// Key returns the fully qualified store key for k.
func (n Namespace) Key(k string) string {
	return n.prefix + Separator + k
}

// String returns the namespace prefix.
func (n Namespace) String() string {
	return n.prefix
}
