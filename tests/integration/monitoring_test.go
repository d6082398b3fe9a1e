package integration

import (
	"net/http"
	"testing"
)

func TestMonitoringOverview(t *testing.T) {
	requireService(t)

	status, body := doJSON(t, http.MethodGet, "/monitoring/overview", nil)
	assertStatusIn(t, status, 200)

	var resp struct {
		Since   string           `json:"since"`
		Counts  map[string]int64 `json:"counts"`
		Dropped int64            `json:"dropped"`
	}
	mustUnmarshalJSON(t, body, &resp)
	if resp.Since == "" {
		t.Fatalf("expected since to be set")
	}
	for _, typ := range []string{"cache.invalidated", "notification.created", "notification.alert", "quota.exceeded"} {
		if _, ok := resp.Counts[typ]; !ok {
			t.Errorf("missing counter %s", typ)
		}
	}
}
