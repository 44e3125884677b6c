package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medicare/medicare/internal/platform/events"
)

func TestHub_RoutesEventsByUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice, bob := uuid.New(), uuid.New()
	ca, cb := NewClient(alice), NewClient(bob)
	hub.Register(ca)
	hub.Register(cb)

	ev := events.Event{Type: events.NotificationSent, EntityID: uuid.New(), UserID: alice, Status: "sent"}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ca.Send:
		var got events.Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatal(err)
		}
		if got.Type != events.NotificationSent || got.EntityID != ev.EntityID {
			t.Errorf("unexpected event %+v", got)
		}
	default:
		t.Fatal("alice did not receive her event")
	}
	select {
	case <-cb.Send:
		t.Fatal("bob received alice's event")
	default:
	}
}

func TestHub_UnregisterClosesOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient(uuid.New())
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	if hub.ClientCount(c.UserID) != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount(c.UserID))
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected Send to be closed")
	}
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient(uuid.New())
	hub.Register(c)

	ev := events.Event{Type: events.NotificationCreated, UserID: c.UserID}
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer+10; i++ {
			hub.Publish(context.Background(), ev)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client")
	}
	if len(c.Send) != sendBuffer {
		t.Errorf("expected a full buffer, got %d", len(c.Send))
	}
}

func TestHandler_RejectsBadID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := NewHandler(NewHub(zerolog.Nop())).Stream(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub).RegisterRoutes(e.Group("/api/v1"))
	server := httptest.NewServer(e)
	defer server.Close()

	user := uuid.New()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/users/" + user.String() + "/notifications/stream"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount(user) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(context.Background(), events.Event{Type: events.NotificationDelivered, UserID: user, Status: "delivered"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got events.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != events.NotificationDelivered || got.UserID != user {
		t.Errorf("unexpected event %+v", got)
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for hub.ClientCount(user) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not unregistered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
