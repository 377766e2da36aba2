package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestShouldBroadcastEvent(t *testing.T) {
	h := NewHub(&HubConfig{BroadcastDetections: true}, zap.NewNop())

	tests := map[EventType]bool{
		EventTypePIIDetection: true,
		EventTypeRequestLog:   false,
		EventTypeConnection:   false,
		EventTypePong:         false,
	}
	for eventType, want := range tests {
		if got := h.shouldBroadcastEvent(eventType); got != want {
			t.Errorf("shouldBroadcastEvent(%s) = %v, want %v", eventType, got, want)
		}
	}

	if NewHub(nil, zap.NewNop()).shouldBroadcastEvent(EventTypePIIDetection) {
		t.Error("hub without config should not broadcast")
	}
}

func TestClientSubscription(t *testing.T) {
	c := &Client{}
	if !c.Wants(EventTypeRequestLog) {
		t.Error("new client should want every event")
	}

	c.Subscribe([]EventType{EventTypePIIDetection})
	if !c.Wants(EventTypePIIDetection) || c.Wants(EventTypeRequestLog) {
		t.Error("subscription not applied")
	}

	c.Subscribe(nil)
	if !c.Wants(EventTypeRequestLog) {
		t.Error("empty subscription should reset to every event")
	}
}

func TestAuthorize(t *testing.T) {
	h := NewHub(&HubConfig{Username: "admin", Password: "s3cret"}, zap.NewNop())

	t.Run("Missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if h.authorize(r) {
			t.Error("request without credentials was authorized")
		}
	})

	t.Run("Wrong", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.SetBasicAuth("admin", "nope")
		if h.authorize(r) {
			t.Error("wrong password was authorized")
		}
	})

	t.Run("Valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.SetBasicAuth("admin", "s3cret")
		if !h.authorize(r) {
			t.Error("valid credentials were rejected")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		open := NewHub(&HubConfig{}, zap.NewNop())
		if !open.authorize(httptest.NewRequest(http.MethodGet, "/ws", nil)) {
			t.Error("hub without credentials should accept everyone")
		}
	})
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	if got := ClientIP(r, true); got != "192.0.2.10" {
		t.Errorf("ClientIP() = %s", got)
	}

	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(r, true); got != "198.51.100.7" {
		t.Errorf("ClientIP() = %s", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	if got := ClientIP(r, true); got != "203.0.113.1" {
		t.Errorf("ClientIP() = %s", got)
	}

	t.Run("UntrustedHeadersIgnored", func(t *testing.T) {
		if got := ClientIP(r, false); got != "192.0.2.10" {
			t.Errorf("ClientIP() = %s, want peer address", got)
		}
	})
}

func TestHubDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(&HubConfig{BroadcastDetections: true}, zap.NewNop())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for h.GetStats().ActiveConnections == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.BroadcastEvent(Event{
		Type:      EventTypePIIDetection,
		Timestamp: time.Now(),
		Data:      PIIDetectionEvent{RequestID: "req-1", Flagged: 1, Fields: []string{"phone"}},
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got struct {
		Type EventType         `json:"type"`
		Data PIIDetectionEvent `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != EventTypePIIDetection || got.Data.RequestID != "req-1" || len(got.Data.Fields) != 1 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestHandleWebSocketRejectsBadCredentials(t *testing.T) {
	h := NewHub(&HubConfig{Username: "admin", Password: "s3cret"}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
