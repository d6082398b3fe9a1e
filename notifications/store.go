package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"encore.dev/rlog"
	"github.com/google/uuid"
)

// Store creates, persists and announces notifications. It is the
// long-lived object; an Inbox is one user's session on top of it.
type Store struct {
	repo      *Repository
	alerter   Alerter
	publisher publisher
	metrics   *Metrics
	now       func() time.Time
	newID     func() string
	log       rlog.Ctx
}

// Metrics counts notification activity and swallowed failures.
type Metrics struct {
	Created       atomic.Int64
	Broadcasts    atomic.Int64
	Alerts        atomic.Int64
	AlertErrors   atomic.Int64
	StorageErrors atomic.Int64
	PublishErrors atomic.Int64
}

// NewStore wires a Store. A nil clock means time.Now.
func NewStore(repo *Repository, alerter Alerter, pub publisher, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:      repo,
		alerter:   alerter,
		publisher: pub,
		metrics:   &Metrics{},
		now:       now,
		newID:     uuid.NewString,
		log:       rlog.With("component", "notification_store"),
	}
}

// Deliver validates nn, stamps it and persists it by audience: a broadcast
// is appended to the global list, anything else is prepended to the
// recipient's document. High-priority notifications raise exactly one alert.
// Storage and publish failures are logged, not returned.
func (s *Store) Deliver(ctx context.Context, nn NewNotification) (Notification, error) {
	n, err := s.build(nn)
	if err != nil {
		return Notification{}, err
	}
	s.persist(ctx, n)
	s.announce(ctx, n)
	return n, nil
}

func (s *Store) build(nn NewNotification) (Notification, error) {
	if err := nn.Validate(); err != nil {
		return Notification{}, err
	}
	id := nn.id
	if id == "" {
		id = s.newID()
	}
	return Notification{
		ID:        id,
		Title:     nn.Title,
		Message:   nn.Message,
		Kind:      nn.Kind,
		Audience:  nn.Audience,
		CreatedAt: s.now().UTC(),
		Read:      false,
		Priority:  nn.Priority,
	}, nil
}

func (s *Store) persist(ctx context.Context, n Notification) {
	var err error
	if n.Broadcast() {
		err = s.repo.AppendBroadcast(ctx, n)
	} else {
		err = s.repo.UpdateUser(ctx, n.Audience, func(doc *UserDoc) {
			doc.Items = append([]Notification{n}, doc.Items...)
		})
	}
	if err != nil {
		s.storageFailed("persist notification", err, "notification_id", n.ID, "audience", n.Audience)
	}
}

func (s *Store) announce(ctx context.Context, n Notification) {
	s.metrics.Created.Add(1)
	if n.Broadcast() {
		s.metrics.Broadcasts.Add(1)
	}

	if err := s.publisher.PublishCreated(ctx, createdEvent(n)); err != nil {
		s.metrics.PublishErrors.Add(1)
		s.log.Error("failed to publish notification created", "err", err, "notification_id", n.ID)
	}

	if n.Priority != PriorityHigh {
		return
	}
	s.metrics.Alerts.Add(1)
	if err := s.alerter.Alert(ctx, n); err != nil {
		s.metrics.AlertErrors.Add(1)
		s.log.Error("failed to raise alert", "err", err, "notification_id", n.ID)
	}
}

// DeliverWelcome prepends nn to its recipient's document unless the user was
// already welcomed. The check and the write happen in one locked update, so
// concurrent redeliveries produce one notification. delivered is false when
// nothing was written. Unlike Deliver, a storage failure is returned so the
// caller can retry.
func (s *Store) DeliverWelcome(ctx context.Context, nn NewNotification) (n Notification, delivered bool, err error) {
	n, err = s.build(nn)
	if err != nil {
		return Notification{}, false, err
	}
	if n.Broadcast() {
		return Notification{}, false, fmt.Errorf("%w: welcome needs a single recipient", ErrInvalidNotification)
	}

	err = s.repo.UpdateUser(ctx, n.Audience, func(doc *UserDoc) {
		if doc.Welcomed || doc.has(n.ID) {
			doc.Welcomed = true
			return
		}
		doc.Welcomed = true
		doc.Items = append([]Notification{n}, doc.Items...)
		delivered = true
	})
	if err != nil {
		s.storageFailed("deliver welcome", err, "notification_id", n.ID, "audience", n.Audience)
		return Notification{}, false, err
	}
	if delivered {
		s.announce(ctx, n)
	}
	return n, delivered, nil
}

// RecentBroadcasts returns up to limit broadcasts, newest first.
func (s *Store) RecentBroadcasts(ctx context.Context, limit int) ([]Notification, error) {
	list, err := s.repo.LoadBroadcasts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(list))
	for _, n := range list {
		if n.Broadcast() {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClearUser removes everything persisted for userID without loading it.
func (s *Store) ClearUser(ctx context.Context, userID string) error {
	if err := s.repo.ClearUser(ctx, userID); err != nil {
		s.storageFailed("clear user", err, "user_id", userID)
		return err
	}
	return nil
}

// Metrics returns the store's counters.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// Close closes the underlying key-value store.
func (s *Store) Close() error {
	if err := s.repo.Close(); err != nil {
		return fmt.Errorf("close notification store: %w", err)
	}
	return nil
}

func (s *Store) storageFailed(op string, err error, kv ...any) {
	s.metrics.StorageErrors.Add(1)
	s.log.Error("notification storage failed", append([]any{"op", op, "err", err}, kv...)...)
}
