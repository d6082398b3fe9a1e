// Package monitoring follows the domain events published by the other
// services and serves a running overview of them.
//
// Ingestion:
//   - cache-invalidated: invalidations and clears, labelled by mode
//   - notification-created: labelled by priority
//   - notification-alert: labelled by variant
//   - quota-exceeded: labelled by plan
//
// Every event passes an ingestion budget (token bucket from x/time/rate).
// Events over budget are counted as dropped; the handler still acks them so
// the broker does not redeliver a burst.
package monitoring

import (
	"context"
	"time"

	"encore.dev/pubsub"
	"encore.dev/rlog"

	"lunnar/cache"
	"lunnar/notifications"
	"lunnar/pkg/events"
	"lunnar/ratelimit"
)

//encore:service
type Service struct {
	collector *Collector
	config    Config
	log       rlog.Ctx
}

// Config holds monitoring service configuration.
type Config struct {
	IngestRate  float64 // Events admitted per second
	IngestBurst int     // Events admitted in one burst
	RecentSize  int     // Observations kept for the overview
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		IngestRate:  1000,
		IngestBurst: 2000,
		RecentSize:  50,
	}
}

func initService() (*Service, error) {
	return newService(DefaultConfig(), time.Now), nil
}

func newService(cfg Config, now func() time.Time) *Service {
	return &Service{
		collector: NewCollector(cfg.IngestRate, cfg.IngestBurst, cfg.RecentSize, now),
		config:    cfg,
		log:       rlog.With("service", "monitoring"),
	}
}

// Overview returns counters per event type, dropped events and recent activity.
//
//encore:api public method=GET path=/monitoring/overview
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	o := s.collector.Snapshot()
	return &o, nil
}

var _ = pubsub.NewSubscription(
	cache.InvalidatedTopic,
	"monitoring-cache-invalidated",
	pubsub.SubscriptionConfig[*events.CacheInvalidatedEvent]{
		Handler: pubsub.MethodHandler((*Service).HandleCacheInvalidated),
	},
)

var _ = pubsub.NewSubscription(
	notifications.CreatedTopic,
	"monitoring-notification-created",
	pubsub.SubscriptionConfig[*events.NotificationCreatedEvent]{
		Handler: pubsub.MethodHandler((*Service).HandleNotificationCreated),
	},
)

var _ = pubsub.NewSubscription(
	notifications.AlertTopic,
	"monitoring-notification-alert",
	pubsub.SubscriptionConfig[*events.NotificationAlertEvent]{
		Handler: pubsub.MethodHandler((*Service).HandleNotificationAlert),
	},
)

var _ = pubsub.NewSubscription(
	ratelimit.QuotaExceededTopic,
	"monitoring-quota-exceeded",
	pubsub.SubscriptionConfig[*events.QuotaExceededEvent]{
		Handler: pubsub.MethodHandler((*Service).HandleQuotaExceeded),
	},
)

// HandleCacheInvalidated records a cache invalidation.
func (s *Service) HandleCacheInvalidated(ctx context.Context, event *events.CacheInvalidatedEvent) error {
	if err := event.Validate(); err != nil {
		s.log.Warn("dropping malformed event", "topic", events.TopicCacheInvalidated, "err", err)
		return nil
	}
	mode := "keys"
	switch {
	case event.Cleared:
		mode = "clear"
	case event.Pattern != "":
		mode = "pattern"
	}
	s.record(Observation{
		Type:       EventCacheInvalidated,
		Subject:    event.Source,
		Label:      mode,
		OccurredAt: event.TriggeredAt,
	})
	return nil
}

// HandleNotificationCreated records a stored notification.
func (s *Service) HandleNotificationCreated(ctx context.Context, event *events.NotificationCreatedEvent) error {
	if err := event.Validate(); err != nil {
		s.log.Warn("dropping malformed event", "topic", events.TopicNotificationCreated, "err", err)
		return nil
	}
	s.record(Observation{
		Type:       EventNotificationCreated,
		Subject:    event.Audience,
		Label:      event.Priority,
		OccurredAt: event.CreatedAt,
	})
	return nil
}

// HandleNotificationAlert records an alert raised for a notification.
func (s *Service) HandleNotificationAlert(ctx context.Context, event *events.NotificationAlertEvent) error {
	if err := event.Validate(); err != nil {
		s.log.Warn("dropping malformed event", "topic", events.TopicNotificationAlert, "err", err)
		return nil
	}
	s.record(Observation{
		Type:       EventNotificationAlert,
		Subject:    event.Audience,
		Label:      event.Variant,
		OccurredAt: event.RaisedAt,
	})
	return nil
}

// HandleQuotaExceeded records a denied rate-limit check.
func (s *Service) HandleQuotaExceeded(ctx context.Context, event *events.QuotaExceededEvent) error {
	if err := event.Validate(); err != nil {
		s.log.Warn("dropping malformed event", "topic", events.TopicQuotaExceeded, "err", err)
		return nil
	}
	s.record(Observation{
		Type:       EventQuotaExceeded,
		Subject:    event.Subject,
		Label:      event.Plan,
		OccurredAt: event.OccurredAt,
	})
	return nil
}

func (s *Service) record(obs Observation) {
	if s.collector.Record(obs) {
		return
	}
	// Log the first drop and then every thousandth to keep bursts quiet.
	if n := s.collector.Dropped(); n == 1 || n%1000 == 0 {
		s.log.Warn("ingestion budget exceeded, dropping events", "type", obs.Type, "dropped", n)
	}
}
