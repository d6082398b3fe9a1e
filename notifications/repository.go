package notifications

import (
	"context"
	"fmt"
	"sync"

	"lunnar/pkg/kvstore"
)

var (
	rootNamespace  = kvstore.MustNamespace("notifications")
	usersNamespace = kvstore.MustNamespace("notifications", "user")
)

const globalKey = "global"

// Receipt records a user's read or delete of a broadcast notification.
// Broadcasts themselves are never rewritten per user.
type Receipt struct {
	Read    bool `json:"read,omitempty"`
	Deleted bool `json:"deleted,omitempty"`
}

// UserDoc is the persisted state of one user: notifications addressed to
// them, newest first, plus receipts for broadcasts. Welcomed outlives
// deletes and clears so a user is welcomed at most once.
type UserDoc struct {
	Items    []Notification     `json:"items"`
	Receipts map[string]Receipt `json:"receipts,omitempty"`
	Welcomed bool               `json:"welcomed,omitempty"`
}

func (d *UserDoc) receipt(id string) Receipt {
	if d.Receipts == nil {
		return Receipt{}
	}
	return d.Receipts[id]
}

func (d *UserDoc) setReceipt(id string, r Receipt) {
	if d.Receipts == nil {
		d.Receipts = make(map[string]Receipt)
	}
	d.Receipts[id] = r
}

func (d *UserDoc) has(id string) bool {
	for _, n := range d.Items {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (d *UserDoc) empty() bool {
	return len(d.Items) == 0 && len(d.Receipts) == 0 && !d.Welcomed
}

// Repository persists notifications under two keys:
//
//	notifications/user/<id>  per-user document
//	notifications/global     append-only list of broadcasts
type Repository struct {
	mu     sync.Mutex
	store  kvstore.Store
	users  *kvstore.Repository[UserDoc]
	global *kvstore.Repository[[]Notification]
}

// NewRepository binds the notification keyspace to store.
func NewRepository(store kvstore.Store) *Repository {
	return &Repository{
		store:  store,
		users:  kvstore.NewRepository[UserDoc](store, usersNamespace),
		global: kvstore.NewRepository[[]Notification](store, rootNamespace),
	}
}

// LoadUser returns the user's document, or an empty one if none is stored.
func (r *Repository) LoadUser(ctx context.Context, userID string) (UserDoc, error) {
	doc, _, err := r.users.Get(ctx, userID)
	if err != nil {
		return UserDoc{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	return doc, nil
}

// saveUser replaces the user's document. An empty document removes the key.
func (r *Repository) saveUser(ctx context.Context, userID string, doc UserDoc) error {
	if doc.empty() {
		return r.deleteUser(ctx, userID)
	}
	if err := r.users.Put(ctx, userID, doc); err != nil {
		return fmt.Errorf("save user %s: %w", userID, err)
	}
	return nil
}

// UpdateUser applies fn to the stored document and writes it back.
func (r *Repository) UpdateUser(ctx context.Context, userID string, fn func(*UserDoc)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.LoadUser(ctx, userID)
	if err != nil {
		return err
	}
	fn(&doc)
	return r.saveUser(ctx, userID, doc)
}

// ClearUser drops the user's notifications and receipts. Broadcasts are not
// touched. A document that cannot be read is removed outright.
func (r *Repository) ClearUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.LoadUser(ctx, userID)
	if err != nil || !doc.Welcomed {
		return r.deleteUser(ctx, userID)
	}
	return r.saveUser(ctx, userID, UserDoc{Welcomed: true})
}

func (r *Repository) deleteUser(ctx context.Context, userID string) error {
	if err := r.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	return nil
}

// LoadBroadcasts returns every broadcast ever created, oldest first.
func (r *Repository) LoadBroadcasts(ctx context.Context) ([]Notification, error) {
	list, _, err := r.global.Get(ctx, globalKey)
	if err != nil {
		return nil, fmt.Errorf("load broadcasts: %w", err)
	}
	return list, nil
}

// AppendBroadcast adds n to the global list.
func (r *Repository) AppendBroadcast(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.LoadBroadcasts(ctx)
	if err != nil {
		return err
	}
	list = append(list, n)
	if err := r.global.Put(ctx, globalKey, list); err != nil {
		return fmt.Errorf("append broadcast: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (r *Repository) Close() error {
	return r.store.Close()
}
