package integration

import (
	"fmt"
	"net/http"
	"testing"
)

type notification struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Audience string `json:"audience"`
	Read     bool   `json:"read"`
	Priority string `json:"priority"`
}

type inboxResponse struct {
	Notifications []notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

func TestNotificationEndpoints(t *testing.T) {
	requireService(t)
	user := uniqueID("it-user")
	var sentID string

	t.Run("POST /notifications rejects missing message", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, "/notifications", map[string]any{"title": "T"})
		assertStatusIn(t, status, 400)
	})

	t.Run("POST /notifications to one user", func(t *testing.T) {
		status, body := doJSON(t, http.MethodPost, "/notifications", map[string]any{
			"title":    "Pagamento confirmado",
			"message":  "Seu plano foi ativado",
			"type":     "success",
			"priority": "high",
			"target":   "specific",
			"user_id":  user,
		})
		assertStatusIn(t, status, 200)

		var resp struct {
			Notification notification `json:"notification"`
		}
		mustUnmarshalJSON(t, body, &resp)
		if resp.Notification.ID == "" || resp.Notification.Audience != user {
			t.Fatalf("unexpected notification %+v", resp.Notification)
		}
		sentID = resp.Notification.ID
	})

	t.Run("GET /notifications/user/:userID", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/notifications/user/"+user, nil)
		assertStatusIn(t, status, 200)

		var resp inboxResponse
		mustUnmarshalJSON(t, body, &resp)
		if len(resp.Notifications) == 0 {
			t.Fatalf("inbox is empty")
		}
		if resp.Notifications[0].ID != sentID || resp.Notifications[0].Read {
			t.Fatalf("expected the sent notification first and unread, got %+v", resp.Notifications)
		}
	})

	t.Run("POST /notifications/user/:userID/read/:id", func(t *testing.T) {
		path := fmt.Sprintf("/notifications/user/%s/read/%s", user, sentID)
		status, body := doJSON(t, http.MethodPost, path, nil)
		assertStatusIn(t, status, 200)

		var resp inboxResponse
		mustUnmarshalJSON(t, body, &resp)
		for _, n := range resp.Notifications {
			if n.ID == sentID && !n.Read {
				t.Fatalf("notification not marked read")
			}
		}
	})

	t.Run("POST /notifications/user/:userID/read-all", func(t *testing.T) {
		status, body := doJSON(t, http.MethodPost, "/notifications/user/"+user+"/read-all", nil)
		assertStatusIn(t, status, 200)

		var resp inboxResponse
		mustUnmarshalJSON(t, body, &resp)
		if resp.UnreadCount != 0 {
			t.Fatalf("expected unread_count=0, got %d", resp.UnreadCount)
		}
	})

	t.Run("DELETE /notifications/user/:userID/item/:id", func(t *testing.T) {
		path := fmt.Sprintf("/notifications/user/%s/item/%s", user, sentID)
		status, _ := doJSON(t, http.MethodDelete, path, nil)
		assertStatusIn(t, status, 200)

		status, _ = doJSON(t, http.MethodDelete, path, nil)
		assertStatusIn(t, status, 404)
	})

	t.Run("DELETE /notifications/user/:userID", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodDelete, "/notifications/user/"+user, nil)
		assertStatusIn(t, status, 200)
	})

	t.Run("GET /notifications/broadcasts", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/notifications/broadcasts?limit=3", nil)
		assertStatusIn(t, status, 200)

		var resp struct {
			Broadcasts []notification `json:"broadcasts"`
		}
		mustUnmarshalJSON(t, body, &resp)
		if len(resp.Broadcasts) > 3 {
			t.Fatalf("limit not applied: %d", len(resp.Broadcasts))
		}
	})
}
