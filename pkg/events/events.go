package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event versioning strategy:
// - Version 1: Initial schema
// - Future versions: Add fields, never remove (backward compatible)
// - Consumers should check Version and handle appropriately

const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// NewRequestID returns a uuid v4 used to correlate an event with the request
// that caused it.
func NewRequestID() string {
	return uuid.NewString()
}

// CacheInvalidatedEvent reports keys removed from one cache instance.
// This event is published to TopicCacheInvalidated.
//
// Invalidation modes:
//   - Exact keys: Keys slice
//   - Pattern-based: Pattern (e.g., "search:*")
//   - Full clear: Cleared=true, Keys and Pattern empty
type CacheInvalidatedEvent struct {
	// Version of the event schema (for backward compatibility)
	Version int `json:"version"`

	// Source identifies the instance that performed the invalidation.
	Source string `json:"source"`

	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Cleared bool     `json:"cleared,omitempty"`

	TriggeredAt time.Time `json:"triggered_at"`
	RequestID   string    `json:"request_id"`
}

// Validate checks if the CacheInvalidatedEvent is well-formed.
func (e *CacheInvalidatedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.Source == "" {
		return errors.New("source field is required")
	}
	if len(e.Keys) == 0 && e.Pattern == "" && !e.Cleared {
		return errors.New("one of keys, pattern or cleared must be set")
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}
	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}
	return nil
}

// NotificationCreatedEvent is published to TopicNotificationCreated for every
// notification stored, whether addressed to one user or broadcast.
type NotificationCreatedEvent struct {
	Version        int       `json:"version"`
	NotificationID string    `json:"notification_id"`
	Audience       string    `json:"audience"` // user id or "all"
	Kind           string    `json:"kind"`
	Priority       string    `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
	RequestID      string    `json:"request_id"`
}

// Validate checks if the NotificationCreatedEvent is well-formed.
func (e *NotificationCreatedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.NotificationID == "" {
		return errors.New("notification_id is required")
	}
	if e.Audience == "" {
		return errors.New("audience is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created_at cannot be zero")
	}
	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}
	return nil
}

// NotificationAlertEvent is the server-side rendition of a transient UI alert.
// It is published to TopicNotificationAlert once per high-priority notification.
type NotificationAlertEvent struct {
	Version        int    `json:"version"`
	NotificationID string `json:"notification_id"`
	Audience       string `json:"audience"`
	Title          string `json:"title"`
	Message        string `json:"message"`

	// Variant is "destructive" for error notifications, "default" otherwise.
	Variant string `json:"variant"`

	RaisedAt  time.Time `json:"raised_at"`
	RequestID string    `json:"request_id"`
}

// Validate checks if the NotificationAlertEvent is well-formed.
func (e *NotificationAlertEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.NotificationID == "" {
		return errors.New("notification_id is required")
	}
	if e.Title == "" {
		return errors.New("title is required")
	}
	if e.Variant != "default" && e.Variant != "destructive" {
		return fmt.Errorf("invalid variant: %s (must be default or destructive)", e.Variant)
	}
	if e.RaisedAt.IsZero() {
		return errors.New("raised_at cannot be zero")
	}
	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}
	return nil
}

// QuotaExceededEvent is published to TopicQuotaExceeded when a check is denied.
type QuotaExceededEvent struct {
	Version    int       `json:"version"`
	Subject    string    `json:"subject"`
	Plan       string    `json:"plan"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"reset_at"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id"`
}

// Validate checks if the QuotaExceededEvent is well-formed.
func (e *QuotaExceededEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.Subject == "" {
		return errors.New("subject is required")
	}
	if e.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at cannot be zero")
	}
	if e.ResetAt.Before(e.OccurredAt) {
		return errors.New("reset_at cannot precede occurred_at")
	}
	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}
	return nil
}

// UserSignedUpEvent is published to TopicUserSignedUp when an account is created.
type UserSignedUpEvent struct {
	Version    int       `json:"version"`
	UserID     string    `json:"user_id"`
	SignedUpAt time.Time `json:"signed_up_at"`
	RequestID  string    `json:"request_id"`
}

// Validate checks if the UserSignedUpEvent is well-formed.
func (e *UserSignedUpEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.UserID == "" {
		return errors.New("user_id is required")
	}
	if e.SignedUpAt.IsZero() {
		return errors.New("signed_up_at cannot be zero")
	}
	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}
	return nil
}
