package notifications

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a notification for display.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Priority controls whether a notification also raises an alert.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// AudienceAll addresses a notification to every user.
const AudienceAll = "all"

var (
	// ErrInvalidNotification wraps every validation failure of NewNotification.
	ErrInvalidNotification = errors.New("notifications: invalid notification")

	// ErrNotFound is returned when an id is not in the inbox.
	ErrNotFound = errors.New("notifications: notification not found")
)

// Notification is one message as stored and displayed.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"type"`
	Audience  string    `json:"audience"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
	Priority  Priority  `json:"priority"`
}

// Broadcast reports whether n is addressed to every user.
func (n Notification) Broadcast() bool {
	return n.Audience == AudienceAll
}

// NewNotification is the caller-supplied part of a notification.
type NewNotification struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Kind     Kind     `json:"type"`
	Audience string   `json:"audience"`
	Priority Priority `json:"priority"`

	// id, when set, replaces the generated id. Used for idempotent system
	// notifications such as the welcome message.
	id string
}

// Validate checks required fields and enum values.
func (n NewNotification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.Audience) == "" {
		return fmt.Errorf("%w: audience is required", ErrInvalidNotification)
	}
	switch n.Kind {
	case KindInfo, KindWarning, KindSuccess, KindError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, n.Kind)
	}
	switch n.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, n.Priority)
	}
	return nil
}

// withDefaults fills kind and priority the way the admin form does.
func (n NewNotification) withDefaults() NewNotification {
	if n.Kind == "" {
		n.Kind = KindInfo
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	return n
}

// UnreadCount counts entries with read=false.
func UnreadCount(items []Notification) int {
	count := 0
	for _, n := range items {
		if !n.Read {
			count++
		}
	}
	return count
}
