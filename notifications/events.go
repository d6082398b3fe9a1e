package notifications

import (
	"context"

	"encore.dev/pubsub"

	"lunnar/pkg/events"
)

// CreatedTopic receives one event per stored notification.
var CreatedTopic = pubsub.NewTopic[*events.NotificationCreatedEvent](
	"notification-created",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// AlertTopic carries the transient alert raised for high-priority notifications.
var AlertTopic = pubsub.NewTopic[*events.NotificationAlertEvent](
	"notification-alert",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// SignedUpTopic announces new accounts.
var SignedUpTopic = pubsub.NewTopic[*events.UserSignedUpEvent](
	"user-signed-up",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Send the welcome notification to every new account.
var _ = pubsub.NewSubscription(
	SignedUpTopic,
	"notifications-welcome",
	pubsub.SubscriptionConfig[*events.UserSignedUpEvent]{
		Handler: pubsub.MethodHandler((*Service).HandleUserSignedUp),
	},
)

// Alerter surfaces a transient alert for a notification.
type Alerter interface {
	Alert(ctx context.Context, n Notification) error
}

// publisher announces stored notifications and signups.
type publisher interface {
	PublishCreated(ctx context.Context, event *events.NotificationCreatedEvent) error
	PublishSignedUp(ctx context.Context, event *events.UserSignedUpEvent) error
}

// topicAlerter publishes alerts on AlertTopic.
type topicAlerter struct{}

func (topicAlerter) Alert(ctx context.Context, n Notification) error {
	_, err := AlertTopic.Publish(ctx, alertEvent(n))
	return err
}

type topicPublisher struct{}

func (topicPublisher) PublishCreated(ctx context.Context, event *events.NotificationCreatedEvent) error {
	_, err := CreatedTopic.Publish(ctx, event)
	return err
}

func (topicPublisher) PublishSignedUp(ctx context.Context, event *events.UserSignedUpEvent) error {
	_, err := SignedUpTopic.Publish(ctx, event)
	return err
}

// alertEvent renders n as an alert. Error notifications use the destructive variant.
func alertEvent(n Notification) *events.NotificationAlertEvent {
	variant := "default"
	if n.Kind == KindError {
		variant = "destructive"
	}
	return &events.NotificationAlertEvent{
		Version:        events.EventVersion1,
		NotificationID: n.ID,
		Audience:       n.Audience,
		Title:          n.Title,
		Message:        n.Message,
		Variant:        variant,
		RaisedAt:       n.CreatedAt,
		RequestID:      events.NewRequestID(),
	}
}

func createdEvent(n Notification) *events.NotificationCreatedEvent {
	return &events.NotificationCreatedEvent{
		Version:        events.EventVersion1,
		NotificationID: n.ID,
		Audience:       n.Audience,
		Kind:           string(n.Kind),
		Priority:       string(n.Priority),
		CreatedAt:      n.CreatedAt,
		RequestID:      events.NewRequestID(),
	}
}
