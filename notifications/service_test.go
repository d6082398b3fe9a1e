package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"encore.dev/beta/errs"

	"lunnar/pkg/events"
	"lunnar/pkg/kvstore"
)

func setupTestService(t *testing.T) (*Service, *recordingAlerter, *recordingPublisher, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	alerter := &recordingAlerter{}
	pub := &recordingPublisher{}
	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	svc := newService(cfg, kvstore.NewMemoryStore(), alerter, pub, clock.Now)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc, alerter, pub, clock
}

func TestService_SendValidation(t *testing.T) {
	svc, _, _, _ := setupTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *SendRequest
		code errs.ErrCode
	}{
		{"missing title", &SendRequest{Message: "M"}, errs.InvalidArgument},
		{"missing message", &SendRequest{Title: "T"}, errs.InvalidArgument},
		{"specific without user", &SendRequest{Title: "T", Message: "M", Target: "specific"}, errs.InvalidArgument},
		{"unknown target", &SendRequest{Title: "T", Message: "M", Target: "some"}, errs.InvalidArgument},
		{"unknown type", &SendRequest{Title: "T", Message: "M", Kind: "alarm"}, errs.InvalidArgument},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tc.req)
			if errs.Code(err) != tc.code {
				t.Errorf("expected %v, got %v", tc.code, err)
			}
		})
	}
}

func TestService_SendDefaultsAndTargets(t *testing.T) {
	svc, alerter, _, _ := setupTestService(t)
	ctx := context.Background()

	resp, err := svc.Send(ctx, &SendRequest{Title: "Manutenção", Message: "Sistema fora do ar às 22h"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	n := resp.Notification
	if n.Audience != AudienceAll || n.Kind != KindInfo || n.Priority != PriorityMedium {
		t.Errorf("unexpected defaults %+v", n)
	}

	resp, err = svc.Send(ctx, &SendRequest{
		Title: "Pagamento", Message: "Falhou", Kind: KindError,
		Priority: PriorityHigh, Target: "specific", UserID: "u7",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Notification.Audience != "u7" {
		t.Errorf("audience = %q, want u7", resp.Notification.Audience)
	}
	if alerter.count() != 1 {
		t.Errorf("expected 1 alert, got %d", alerter.count())
	}

	inbox, err := svc.Inbox(ctx, "u7")
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(inbox.Notifications) != 2 || inbox.UnreadCount != 2 {
		t.Errorf("u7 should see both, got %+v", inbox)
	}
	if inbox.Notifications[0].Audience != "u7" {
		t.Error("user entries come before broadcasts")
	}
}

func TestService_InboxLifecycle(t *testing.T) {
	svc, _, _, _ := setupTestService(t)
	ctx := context.Background()

	a, err := svc.Add(ctx, "u1", &AddRequest{Title: "A", Message: "a"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if a.Notification.Audience != "u1" {
		t.Errorf("Add without audience should address the caller, got %q", a.Notification.Audience)
	}
	b, _ := svc.Add(ctx, "u1", &AddRequest{Title: "B", Message: "b", Audience: AudienceAll, Priority: PriorityLow})

	resp, err := svc.MarkAsRead(ctx, "u1", a.Notification.ID)
	if err != nil {
		t.Fatalf("MarkAsRead failed: %v", err)
	}
	if resp.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", resp.UnreadCount)
	}

	if _, err := svc.MarkAsRead(ctx, "u1", "nope"); errs.Code(err) != errs.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}

	resp, _ = svc.MarkAllAsRead(ctx, "u1")
	if resp.UnreadCount != 0 {
		t.Errorf("UnreadCount after read-all = %d", resp.UnreadCount)
	}

	resp, err = svc.DeleteNotification(ctx, "u1", b.Notification.ID)
	if err != nil {
		t.Fatalf("DeleteNotification failed: %v", err)
	}
	if len(resp.Notifications) != 1 || resp.Notifications[0].ID != a.Notification.ID {
		t.Errorf("unexpected inbox after delete %+v", resp.Notifications)
	}

	if err := svc.ClearAll(ctx, "u1"); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	inbox, _ := svc.Inbox(ctx, "u1")
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].ID != b.Notification.ID || inbox.UnreadCount != 1 {
		t.Errorf("only the broadcast should remain, unread, got %+v", inbox)
	}
}

func TestService_RecentBroadcastsLimit(t *testing.T) {
	svc, _, _, _ := setupTestService(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		svc.Send(ctx, &SendRequest{Title: "T", Message: "M"})
	}

	resp, err := svc.RecentBroadcasts(ctx, &BroadcastsParams{})
	if err != nil {
		t.Fatalf("RecentBroadcasts failed: %v", err)
	}
	if len(resp.Broadcasts) != 5 {
		t.Errorf("default limit: got %d, want 5", len(resp.Broadcasts))
	}

	resp, _ = svc.RecentBroadcasts(ctx, &BroadcastsParams{Limit: 7})
	if len(resp.Broadcasts) != 7 {
		t.Errorf("limit 7: got %d", len(resp.Broadcasts))
	}
}

func TestService_SignupPublishes(t *testing.T) {
	svc, _, pub, _ := setupTestService(t)
	ctx := context.Background()

	if err := svc.Signup(ctx, &SignupRequest{}); errs.Code(err) != errs.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	if err := svc.Signup(ctx, &SignupRequest{UserID: "new-user"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if len(pub.signups) != 1 {
		t.Fatalf("expected 1 signup event, got %d", len(pub.signups))
	}
	if err := pub.signups[0].Validate(); err != nil {
		t.Errorf("signup event invalid: %v", err)
	}
}

func TestService_WelcomeOnSignup(t *testing.T) {
	svc, alerter, _, clock := setupTestService(t)
	ctx := context.Background()

	event := &events.UserSignedUpEvent{
		Version:    events.EventVersion1,
		UserID:     "new-user",
		SignedUpAt: clock.Now(),
		RequestID:  events.NewRequestID(),
	}
	if err := svc.HandleUserSignedUp(ctx, event); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	// Redelivery must not duplicate the welcome.
	if err := svc.HandleUserSignedUp(ctx, event); err != nil {
		t.Fatalf("handler failed on redelivery: %v", err)
	}

	inbox, _ := svc.Inbox(ctx, "new-user")
	if len(inbox.Notifications) != 1 {
		t.Fatalf("expected exactly one welcome, got %d", len(inbox.Notifications))
	}
	n := inbox.Notifications[0]
	if n.Title != welcomeTitle || n.Kind != KindSuccess || n.Priority != PriorityHigh {
		t.Errorf("unexpected welcome %+v", n)
	}
	if alerter.count() != 1 {
		t.Errorf("welcome should alert once, got %d", alerter.count())
	}

	if err := svc.HandleUserSignedUp(ctx, &events.UserSignedUpEvent{}); err != nil {
		t.Errorf("malformed event should be dropped, got %v", err)
	}
}

func signedUp(userID string, at time.Time) *events.UserSignedUpEvent {
	return &events.UserSignedUpEvent{
		Version:    events.EventVersion1,
		UserID:     userID,
		SignedUpAt: at,
		RequestID:  events.NewRequestID(),
	}
}

func TestService_WelcomeConcurrentRedelivery(t *testing.T) {
	svc, alerter, pub, clock := setupTestService(t)
	ctx := context.Background()
	event := signedUp("racer", clock.Now())

	const deliveries = 20
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.HandleUserSignedUp(ctx, event); err != nil {
				t.Errorf("handler failed: %v", err)
			}
		}()
	}
	wg.Wait()

	inbox, err := svc.Inbox(ctx, "racer")
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(inbox.Notifications) != 1 {
		t.Fatalf("expected one welcome, got %d", len(inbox.Notifications))
	}
	if inbox.Notifications[0].ID != welcomeID("racer") {
		t.Errorf("unexpected id %q", inbox.Notifications[0].ID)
	}
	if alerter.count() != 1 {
		t.Errorf("expected one alert, got %d", alerter.count())
	}
	if n := len(pub.createdEvents()); n != 1 {
		t.Errorf("expected one created event, got %d", n)
	}
}

func TestService_WelcomeNotRearmedByDeleteOrClear(t *testing.T) {
	svc, alerter, _, clock := setupTestService(t)
	ctx := context.Background()
	event := signedUp("u9", clock.Now())

	if err := svc.HandleUserSignedUp(ctx, event); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	inbox, err := svc.DeleteNotification(ctx, "u9", welcomeID("u9"))
	if err != nil {
		t.Fatalf("DeleteNotification failed: %v", err)
	}
	if len(inbox.Notifications) != 0 {
		t.Fatalf("welcome should be deleted, got %d items", len(inbox.Notifications))
	}
	if err := svc.HandleUserSignedUp(ctx, event); err != nil {
		t.Fatalf("redelivery after delete failed: %v", err)
	}
	if inbox, _ = svc.Inbox(ctx, "u9"); len(inbox.Notifications) != 0 {
		t.Errorf("redelivery after delete re-sent the welcome")
	}

	if err := svc.ClearAll(ctx, "u9"); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if err := svc.HandleUserSignedUp(ctx, event); err != nil {
		t.Fatalf("redelivery after clear failed: %v", err)
	}
	if inbox, _ = svc.Inbox(ctx, "u9"); len(inbox.Notifications) != 0 {
		t.Errorf("redelivery after clear re-sent the welcome")
	}
	if alerter.count() != 1 {
		t.Errorf("expected one alert overall, got %d", alerter.count())
	}
}

func TestService_WelcomeStorageFailureIsRetried(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	svc := newService(cfg, failingStore{}, &recordingAlerter{}, &recordingPublisher{}, clock.Now)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	err := svc.HandleUserSignedUp(context.Background(), signedUp("u1", clock.Now()))
	if !errors.Is(err, errStorageDown) {
		t.Errorf("expected storage error so the event is redelivered, got %v", err)
	}
}

func TestService_LevelDBBackendPersists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendLevelDB
	cfg.LevelDBPath = t.TempDir()
	ctx := context.Background()

	kv, err := openBackend(cfg)
	if err != nil {
		t.Fatalf("openBackend failed: %v", err)
	}
	svc := newService(cfg, kv, &recordingAlerter{}, &recordingPublisher{}, nil)
	if _, err := svc.Send(ctx, &SendRequest{Title: "T", Message: "M", Target: "specific", UserID: "u1"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	svc.Shutdown(ctx)

	kv, err = openBackend(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	svc = newService(cfg, kv, &recordingAlerter{}, &recordingPublisher{}, nil)
	defer svc.Shutdown(ctx)

	inbox, err := svc.Inbox(ctx, "u1")
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if len(inbox.Notifications) != 1 {
		t.Errorf("expected persisted notification, got %d", len(inbox.Notifications))
	}
}

func TestOpenBackend_Unknown(t *testing.T) {
	if _, err := openBackend(Config{Backend: "redis"}); err == nil {
		t.Error("unknown backend should fail")
	}
}
