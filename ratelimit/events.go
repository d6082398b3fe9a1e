package ratelimit

import (
	"context"

	"encore.dev/pubsub"

	"lunnar/pkg/events"
)

// QuotaExceededTopic receives one event per denied check.
var QuotaExceededTopic = pubsub.NewTopic[*events.QuotaExceededEvent](
	"quota-exceeded",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

type publisher interface {
	Publish(ctx context.Context, event *events.QuotaExceededEvent) error
}

type topicPublisher struct{}

func (topicPublisher) Publish(ctx context.Context, event *events.QuotaExceededEvent) error {
	_, err := QuotaExceededTopic.Publish(ctx, event)
	return err
}

func (s *Service) publishDenied(ctx context.Context, subject, plan string, st Status) {
	event := &events.QuotaExceededEvent{
		Version:    events.EventVersion1,
		Subject:    subject,
		Plan:       plan,
		Limit:      st.Limit,
		ResetAt:    st.ResetAt,
		OccurredAt: s.now(),
		RequestID:  events.NewRequestID(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.PublishErrors.Add(1)
		s.log.Error("failed to publish quota exceeded", "err", err, "subject", subject, "plan", plan)
	}
}
