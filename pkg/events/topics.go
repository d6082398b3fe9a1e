// Package events provides topic names and event payloads for the panel's
// event-driven services.
//
// Topic Naming Convention:
//   - cache-invalidated: cache keys/patterns removed on one instance
//   - notification-created: a notification was stored for a user or for everyone
//   - notification-alert: a high-priority notification must surface as a transient alert
//   - quota-exceeded: a rate-limit check was denied
//   - user-signed-up: a new account finished signup
//
// Design Notes:
//   - Topic names are constants; service packages declare the Encore topics with
//     the same literal names.
//   - Version field in events enables schema evolution without breaking consumers.
//   - No direct Encore dependencies so pkg/ stays reusable across services.
package events

const (
	// TopicCacheInvalidated is published after keys are removed from a cache instance.
	// Event type: CacheInvalidatedEvent
	// Publishers: cache
	// Subscribers: cache (peer instances), monitoring
	TopicCacheInvalidated = "cache-invalidated"

	// TopicNotificationCreated is published for every stored notification.
	// Event type: NotificationCreatedEvent
	// Publishers: notifications
	// Subscribers: monitoring
	TopicNotificationCreated = "notification-created"

	// TopicNotificationAlert is published for high-priority notifications.
	// Event type: NotificationAlertEvent
	// Publishers: notifications
	// Subscribers: monitoring, UI push gateways
	TopicNotificationAlert = "notification-alert"

	// TopicQuotaExceeded is published when a subject runs out of plan quota.
	// Event type: QuotaExceededEvent
	// Publishers: ratelimit
	// Subscribers: monitoring
	TopicQuotaExceeded = "quota-exceeded"

	// TopicUserSignedUp is published by the signup flow.
	// Event type: UserSignedUpEvent
	// Publishers: notifications (signup webhook)
	// Subscribers: notifications (welcome message)
	TopicUserSignedUp = "user-signed-up"
)
