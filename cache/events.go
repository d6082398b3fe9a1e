package cache

import (
	"context"

	"encore.dev/pubsub"

	"lunnar/pkg/events"
)

// InvalidatedTopic carries invalidations performed on one instance.
var InvalidatedTopic = pubsub.NewTopic[*events.CacheInvalidatedEvent](
	"cache-invalidated",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Apply invalidations performed on other cache instances.
var _ = pubsub.NewSubscription(
	InvalidatedTopic,
	"cache-peer-invalidate",
	pubsub.SubscriptionConfig[*events.CacheInvalidatedEvent]{
		Handler: pubsub.MethodHandler((*Service).HandlePeerInvalidation),
	},
)

// publisher abstracts the topic so tests can observe published events.
type publisher interface {
	Publish(ctx context.Context, event *events.CacheInvalidatedEvent) error
}

type topicPublisher struct{}

func (topicPublisher) Publish(ctx context.Context, event *events.CacheInvalidatedEvent) error {
	_, err := InvalidatedTopic.Publish(ctx, event)
	return err
}

// HandlePeerInvalidation applies an invalidation published by another instance.
// Events from this instance are ignored; applying one twice is harmless anyway.
func (s *Service) HandlePeerInvalidation(ctx context.Context, event *events.CacheInvalidatedEvent) error {
	if err := event.Validate(); err != nil {
		s.log.Warn("dropping malformed invalidation event", "err", err)
		return nil
	}
	if event.Source == s.config.InstanceID {
		return nil
	}

	if event.Cleared {
		s.store.Clear()
		s.metrics.PeerInvalidations.Add(1)
		return nil
	}

	removed := 0
	for _, key := range event.Keys {
		if s.store.Invalidate(key) {
			removed++
		}
	}
	if event.Pattern != "" {
		n, err := s.store.InvalidatePattern(event.Pattern)
		if err != nil {
			s.log.Warn("peer invalidation pattern rejected", "pattern", event.Pattern, "err", err)
		}
		removed += n
	}

	s.metrics.PeerInvalidations.Add(1)
	s.log.Debug("applied peer invalidation", "source", event.Source, "removed", removed, "request_id", event.RequestID)
	return nil
}

// publishInvalidation reports a local invalidation. Failures are logged only.
func (s *Service) publishInvalidation(ctx context.Context, keys []string, pattern string, cleared bool) {
	event := &events.CacheInvalidatedEvent{
		Version:     events.EventVersion1,
		Source:      s.config.InstanceID,
		Keys:        keys,
		Pattern:     pattern,
		Cleared:     cleared,
		TriggeredAt: s.now(),
		RequestID:   events.NewRequestID(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.PublishErrors.Add(1)
		s.log.Error("failed to publish cache invalidation", "err", err, "request_id", event.RequestID)
	}
}
