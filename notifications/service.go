// Package notifications stores per-user and broadcast notifications for the
// panel and serves each user's merged inbox.
//
// Storage layout (namespaced key-value repository):
//   - notifications/user/<id>: the user's own notifications, newest first,
//     plus read/deleted receipts for broadcasts
//   - notifications/global: append-only list of every broadcast
//
// The backend is Encore SQL by default; LevelDB and in-memory stores are
// selectable through Config for single-node and test deployments.
//
// Every stored notification is announced on notification-created; high
// priority ones also raise one alert on notification-alert. New accounts
// receive a welcome notification from the user-signed-up topic.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"encore.dev/beta/errs"
	"encore.dev/rlog"

	"lunnar/pkg/events"
	"lunnar/pkg/kvstore"
)

// Backends selectable in Config.
const (
	BackendSQL     = "sql"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

const (
	welcomeTitle   = "🎉 Bem-vindo ao Painel Lunnar!"
	welcomeMessage = "Seu cadastro foi realizado com sucesso! Precisa de ajuda? Entre em contato conosco via WhatsApp clicando no botão verde no canto da tela."
)

//encore:service
type Service struct {
	store  *Store
	config Config
	now    func() time.Time
	log    rlog.Ctx
}

// Config holds runtime configuration for the notification service.
type Config struct {
	Backend        string // sql, leveldb or memory
	LevelDBPath    string // used by the leveldb backend
	RecentLimit    int    // default size of the recent broadcasts list
	MaxRecentLimit int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendSQL,
		LevelDBPath:    "data/notifications",
		RecentLimit:    5,
		MaxRecentLimit: 50,
	}
}

// Request and response types for API endpoints.

type SendRequest struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Kind     Kind     `json:"type"`
	Priority Priority `json:"priority"`
	Target   string   `json:"target"` // "all" or "specific"
	UserID   string   `json:"user_id,omitempty"`
}

type AddRequest struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Kind     Kind     `json:"type"`
	Audience string   `json:"audience"`
	Priority Priority `json:"priority"`
}

type NotificationResponse struct {
	Notification Notification `json:"notification"`
}

type InboxResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

type BroadcastsParams struct {
	Limit int `query:"limit"`
}

type BroadcastsResponse struct {
	Broadcasts []Notification `json:"broadcasts"`
}

type SignupRequest struct {
	UserID string `json:"user_id"`
}

type StatsResponse struct {
	Created       int64 `json:"created"`
	Broadcasts    int64 `json:"broadcasts"`
	Alerts        int64 `json:"alerts"`
	AlertErrors   int64 `json:"alert_errors"`
	StorageErrors int64 `json:"storage_errors"`
	PublishErrors int64 `json:"publish_errors"`
}

func initService() (*Service, error) {
	cfg := DefaultConfig()
	kv, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification backend: %w", err)
	}
	return newService(cfg, kv, topicAlerter{}, topicPublisher{}, time.Now), nil
}

func openBackend(cfg Config) (kvstore.Store, error) {
	switch cfg.Backend {
	case BackendSQL, "":
		return newSQLStore(db), nil
	case BackendLevelDB:
		return kvstore.OpenLevelDB(cfg.LevelDBPath)
	case BackendMemory:
		return kvstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newService(cfg Config, kv kvstore.Store, alerter Alerter, pub publisher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultConfig().RecentLimit
	}
	if cfg.MaxRecentLimit < cfg.RecentLimit {
		cfg.MaxRecentLimit = cfg.RecentLimit
	}
	return &Service{
		store:  NewStore(NewRepository(kv), alerter, pub, now),
		config: cfg,
		now:    now,
		log:    rlog.With("service", "notifications", "backend", cfg.Backend),
	}
}

// Send is the admin entry point: one user or everyone.
//
//encore:api public method=POST path=/notifications
func (s *Service) Send(ctx context.Context, req *SendRequest) (*NotificationResponse, error) {
	if req == nil || req.Title == "" || req.Message == "" {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: "title and message are required"}
	}

	audience := AudienceAll
	switch req.Target {
	case "", "all":
	case "specific":
		if req.UserID == "" {
			return nil, &errs.Error{Code: errs.InvalidArgument, Message: "user_id is required for a specific target"}
		}
		audience = req.UserID
	default:
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: fmt.Sprintf("unknown target %q", req.Target)}
	}

	n, err := s.store.Deliver(ctx, NewNotification{
		Title:    req.Title,
		Message:  req.Message,
		Kind:     req.Kind,
		Audience: audience,
		Priority: req.Priority,
	}.withDefaults())
	if err != nil {
		return nil, apiError(err)
	}
	s.log.Info("notification sent", "notification_id", n.ID, "audience", n.Audience, "priority", n.Priority)
	return &NotificationResponse{Notification: n}, nil
}

// Inbox returns the user's merged notifications.
//
//encore:api public method=GET path=/notifications/user/:userID
func (s *Service) Inbox(ctx context.Context, userID string) (*InboxResponse, error) {
	in, err := s.store.OpenInbox(ctx, userID)
	if err != nil {
		return nil, apiError(err)
	}
	return inboxResponse(in), nil
}

// Add creates a notification from a user's session.
//
//encore:api public method=POST path=/notifications/user/:userID
func (s *Service) Add(ctx context.Context, userID string, req *AddRequest) (*NotificationResponse, error) {
	if req == nil {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: "request body is required"}
	}
	in, err := s.store.OpenInbox(ctx, userID)
	if err != nil {
		return nil, apiError(err)
	}
	audience := req.Audience
	if audience == "" {
		audience = userID
	}
	n, err := in.Add(ctx, NewNotification{
		Title:    req.Title,
		Message:  req.Message,
		Kind:     req.Kind,
		Audience: audience,
		Priority: req.Priority,
	}.withDefaults())
	if err != nil {
		return nil, apiError(err)
	}
	return &NotificationResponse{Notification: n}, nil
}

// MarkAsRead marks one notification read.
//
//encore:api public method=POST path=/notifications/user/:userID/read/:id
func (s *Service) MarkAsRead(ctx context.Context, userID, id string) (*InboxResponse, error) {
	in, err := s.store.OpenInbox(ctx, userID)
	if err != nil {
		return nil, apiError(err)
	}
	if err := in.MarkAsRead(ctx, id); err != nil {
		return nil, apiError(err)
	}
	return inboxResponse(in), nil
}

// MarkAllAsRead marks every notification read.
//
//encore:api public method=POST path=/notifications/user/:userID/read-all
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (*InboxResponse, error) {
	in, err := s.store.OpenInbox(ctx, userID)
	if err != nil {
		return nil, apiError(err)
	}
	in.MarkAllAsRead(ctx)
	return inboxResponse(in), nil
}

// DeleteNotification removes one notification from the user's inbox.
//
//encore:api public method=DELETE path=/notifications/user/:userID/item/:id
func (s *Service) DeleteNotification(ctx context.Context, userID, id string) (*InboxResponse, error) {
	in, err := s.store.OpenInbox(ctx, userID)
	if err != nil {
		return nil, apiError(err)
	}
	if err := in.Delete(ctx, id); err != nil {
		return nil, apiError(err)
	}
	return inboxResponse(in), nil
}

// ClearAll removes the user's persisted notifications. A document that
// cannot be decoded is removed outright, so this also recovers such a user.
//
//encore:api public method=DELETE path=/notifications/user/:userID
func (s *Service) ClearAll(ctx context.Context, userID string) error {
	if userID == "" {
		return &errs.Error{Code: errs.InvalidArgument, Message: "user id is required"}
	}
	if err := s.store.ClearUser(ctx, userID); err != nil {
		return &errs.Error{Code: errs.Unavailable, Message: "notification storage unavailable"}
	}
	return nil
}

// RecentBroadcasts lists the newest broadcasts for the admin panel.
//
//encore:api public method=GET path=/notifications/broadcasts
func (s *Service) RecentBroadcasts(ctx context.Context, params *BroadcastsParams) (*BroadcastsResponse, error) {
	limit := s.config.RecentLimit
	if params != nil && params.Limit > 0 {
		limit = params.Limit
	}
	if limit > s.config.MaxRecentLimit {
		limit = s.config.MaxRecentLimit
	}
	list, err := s.store.RecentBroadcasts(ctx, limit)
	if err != nil {
		return nil, apiError(err)
	}
	return &BroadcastsResponse{Broadcasts: list}, nil
}

// Stats returns notification counters.
//
//encore:api public method=GET path=/notifications/stats
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	m := s.store.Metrics()
	return &StatsResponse{
		Created:       m.Created.Load(),
		Broadcasts:    m.Broadcasts.Load(),
		Alerts:        m.Alerts.Load(),
		AlertErrors:   m.AlertErrors.Load(),
		StorageErrors: m.StorageErrors.Load(),
		PublishErrors: m.PublishErrors.Load(),
	}, nil
}

// Signup announces a new account; the welcome notification follows from
// the user-signed-up subscription.
//
//encore:api private method=POST path=/notifications/signup
func (s *Service) Signup(ctx context.Context, req *SignupRequest) error {
	if req == nil || req.UserID == "" {
		return &errs.Error{Code: errs.InvalidArgument, Message: "user_id is required"}
	}
	event := &events.UserSignedUpEvent{
		Version:    events.EventVersion1,
		UserID:     req.UserID,
		SignedUpAt: s.now().UTC(),
		RequestID:  events.NewRequestID(),
	}
	if err := s.store.publisher.PublishSignedUp(ctx, event); err != nil {
		s.log.Error("failed to publish signup", "err", err, "user_id", req.UserID)
		return &errs.Error{Code: errs.Unavailable, Message: "failed to announce signup"}
	}
	return nil
}

// HandleUserSignedUp sends the welcome notification. Redelivered events do
// not produce a second welcome.
func (s *Service) HandleUserSignedUp(ctx context.Context, event *events.UserSignedUpEvent) error {
	if err := event.Validate(); err != nil {
		s.log.Warn("dropping malformed signup event", "topic", events.TopicUserSignedUp, "err", err)
		return nil
	}

	_, delivered, err := s.store.DeliverWelcome(ctx, NewNotification{
		Title:    welcomeTitle,
		Message:  welcomeMessage,
		Kind:     KindSuccess,
		Audience: event.UserID,
		Priority: PriorityHigh,
		id:       welcomeID(event.UserID),
	})
	if err != nil {
		return err
	}
	if !delivered {
		s.log.Debug("user already welcomed", "user_id", event.UserID, "request_id", event.RequestID)
		return nil
	}
	s.log.Info("welcome notification sent", "user_id", event.UserID, "request_id", event.RequestID)
	return nil
}

// Shutdown closes the backing store.
func (s *Service) Shutdown(force context.Context) {
	if err := s.store.Close(); err != nil {
		s.log.Error("failed to close store", "err", err)
	}
}

func welcomeID(userID string) string {
	return "welcome-" + userID
}

func inboxResponse(in *Inbox) *InboxResponse {
	return &InboxResponse{
		Notifications: in.List(),
		UnreadCount:   in.UnreadCount(),
	}
}

func apiError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidNotification):
		return &errs.Error{Code: errs.InvalidArgument, Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return &errs.Error{Code: errs.NotFound, Message: err.Error()}
	default:
		return &errs.Error{Code: errs.Unavailable, Message: "notification storage unavailable"}
	}
}
