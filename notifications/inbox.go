package notifications

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Inbox is one signed-in user's view of their notifications: entries
// addressed to them followed by broadcasts, with per-user receipts applied.
//
// Mutations update the in-memory list first and then persist. Persistence
// failures are logged by the Store and do not fail the mutation.
type Inbox struct {
	store  *Store
	userID string

	mu    sync.Mutex
	items []Notification
}

// OpenInbox loads the user's document and the broadcast list concurrently
// and merges them.
func (s *Store) OpenInbox(ctx context.Context, userID string) (*Inbox, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidNotification)
	}

	var (
		doc        UserDoc
		broadcasts []Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = s.repo.LoadUser(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		broadcasts, err = s.repo.LoadBroadcasts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.storageFailed("open inbox", err, "user_id", userID)
		return nil, err
	}

	return &Inbox{
		store:  s,
		userID: userID,
		items:  merge(doc, broadcasts),
	}, nil
}

// merge concatenates the user's entries with visible broadcasts.
func merge(doc UserDoc, broadcasts []Notification) []Notification {
	items := make([]Notification, 0, len(doc.Items)+len(broadcasts))
	items = append(items, doc.Items...)
	for _, b := range broadcasts {
		if !b.Broadcast() {
			continue
		}
		r := doc.receipt(b.ID)
		if r.Deleted {
			continue
		}
		b.Read = r.Read
		items = append(items, b)
	}
	return items
}

// UserID returns the inbox owner.
func (in *Inbox) UserID() string {
	return in.userID
}

// List returns a copy of the inbox entries.
func (in *Inbox) List() []Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Notification, len(in.items))
	copy(out, in.items)
	return out
}

// UnreadCount returns the number of unread entries.
func (in *Inbox) UnreadCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return UnreadCount(in.items)
}

// Add delivers a new notification. It appears in this inbox when addressed
// to its owner or to everyone; otherwise it goes only to the recipient.
func (in *Inbox) Add(ctx context.Context, nn NewNotification) (Notification, error) {
	n, err := in.store.Deliver(ctx, nn)
	if err != nil {
		return Notification{}, err
	}
	if n.Audience == in.userID || n.Broadcast() {
		in.mu.Lock()
		in.items = append([]Notification{n}, in.items...)
		in.mu.Unlock()
	}
	return n, nil
}

// MarkAsRead marks one entry read.
func (in *Inbox) MarkAsRead(ctx context.Context, id string) error {
	in.mu.Lock()
	idx := in.index(id)
	if idx < 0 {
		in.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	in.items[idx].Read = true
	broadcast := in.items[idx].Broadcast()
	in.mu.Unlock()

	in.persist(ctx, "mark as read", func(doc *UserDoc) {
		if broadcast {
			r := doc.receipt(id)
			r.Read = true
			doc.setReceipt(id, r)
			return
		}
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				doc.Items[i].Read = true
			}
		}
	})
	return nil
}

// MarkAllAsRead marks every entry read.
func (in *Inbox) MarkAllAsRead(ctx context.Context) {
	in.mu.Lock()
	var broadcastIDs []string
	for i := range in.items {
		in.items[i].Read = true
		if in.items[i].Broadcast() {
			broadcastIDs = append(broadcastIDs, in.items[i].ID)
		}
	}
	in.mu.Unlock()

	in.persist(ctx, "mark all as read", func(doc *UserDoc) {
		for i := range doc.Items {
			doc.Items[i].Read = true
		}
		for _, id := range broadcastIDs {
			r := doc.receipt(id)
			r.Read = true
			doc.setReceipt(id, r)
		}
	})
}

// Delete removes one entry. Deleting a broadcast hides it for this user only.
func (in *Inbox) Delete(ctx context.Context, id string) error {
	in.mu.Lock()
	idx := in.index(id)
	if idx < 0 {
		in.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	broadcast := in.items[idx].Broadcast()
	in.items = append(in.items[:idx], in.items[idx+1:]...)
	in.mu.Unlock()

	in.persist(ctx, "delete", func(doc *UserDoc) {
		if broadcast {
			r := doc.receipt(id)
			r.Deleted = true
			doc.setReceipt(id, r)
			return
		}
		kept := doc.Items[:0]
		for _, n := range doc.Items {
			if n.ID != id {
				kept = append(kept, n)
			}
		}
		doc.Items = kept
	})
	return nil
}

// ClearAll empties the inbox and drops the user's persisted notifications.
// Broadcasts stay in the global list and show up again on the next load.
// The in-memory inbox is emptied even when the storage call fails.
func (in *Inbox) ClearAll(ctx context.Context) error {
	in.mu.Lock()
	in.items = nil
	in.mu.Unlock()

	return in.store.ClearUser(ctx, in.userID)
}

func (in *Inbox) index(id string) int {
	for i, n := range in.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (in *Inbox) persist(ctx context.Context, op string, fn func(*UserDoc)) {
	if err := in.store.repo.UpdateUser(ctx, in.userID, fn); err != nil {
		in.store.storageFailed(op, err, "user_id", in.userID)
	}
}
