package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a send channel but no connection.
func mockClient(hub *Hub, filter Filter) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
		filter: filter,
	}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got, true
	default:
		return Message{}, false
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub, Filter{})

	hub.Register(c)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
	if _, ok := <-c.send; ok {
		t.Error("expected send channel closed after unregister")
	}
}

func TestFilterMatch(t *testing.T) {
	msg := NewMessage("subscriber", "applied", "sub-1", nil)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"zero filter", Filter{}, true},
		{"same subscriber", Filter{SubscriberID: "sub-1"}, true},
		{"other subscriber", Filter{SubscriberID: "sub-2"}, false},
		{"same outcome", Filter{Outcome: "applied"}, true},
		{"other outcome", Filter{Outcome: "no_matching_user"}, false},
		{"both match", Filter{SubscriberID: "sub-1", Outcome: "applied"}, true},
		{"outcome mismatch", Filter{SubscriberID: "sub-1", Outcome: "ignored"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(msg); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterFromQuery(t *testing.T) {
	q := url.Values{"subscriber_id": {"sub-9"}, "outcome": {"applied"}}
	got := FilterFromQuery(q)
	if got != (Filter{SubscriberID: "sub-9", Outcome: "applied"}) {
		t.Errorf("FilterFromQuery = %+v", got)
	}
	if got := FilterFromQuery(url.Values{}); got != (Filter{}) {
		t.Errorf("empty query = %+v, want zero filter", got)
	}
}

func TestBroadcastRespectsFilters(t *testing.T) {
	hub := NewHub(testLogger())
	all := mockClient(hub, Filter{})
	mine := mockClient(hub, Filter{SubscriberID: "sub-42"})
	unresolved := mockClient(hub, Filter{Outcome: "no_matching_user"})
	for _, c := range []*Client{all, mine, unresolved} {
		hub.Register(c)
	}

	if n := hub.Broadcast(NewMessage("subscriber", "applied", "sub-42", nil)); n != 2 {
		t.Errorf("applied delivered to %d clients, want 2", n)
	}
	if n := hub.Broadcast(NewMessage("subscriber", "no_matching_user", "", nil)); n != 2 {
		t.Errorf("no_matching_user delivered to %d clients, want 2", n)
	}

	if got, ok := receive(t, mine); !ok || got.Type != "subscriber_applied" || got.ID != "sub-42" {
		t.Errorf("subscriber client got %+v, %v", got, ok)
	}
	if _, ok := receive(t, mine); ok {
		t.Error("subscriber client should not see unresolved events")
	}
	if got, ok := receive(t, unresolved); !ok || got.Action != "no_matching_user" {
		t.Errorf("outcome client got %+v, %v", got, ok)
	}
	if _, ok := receive(t, unresolved); ok {
		t.Error("outcome client should not see applied events")
	}
	for i := 0; i < 2; i++ {
		if _, ok := receive(t, all); !ok {
			t.Errorf("unfiltered client missing message %d", i+1)
		}
	}
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(testLogger())
	if n := hub.Broadcast(NewMessage("subscriber", "ignored", "", nil)); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestBroadcastFullBufferDrops(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub, Filter{})
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(NewMessage("subscriber", "applied", fmt.Sprint(i), nil))
	}
	if n := hub.Broadcast(NewMessage("subscriber", "applied", "overflow", nil)); n != 0 {
		t.Errorf("delivered to full client = %d, want 0", n)
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, Filter{SubscriberID: fmt.Sprint(i % 3)})
			hub.Register(c)
			hub.Broadcast(NewMessage("subscriber", "applied", fmt.Sprint(i%3), nil))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestHandleWebSocketFiltersStream(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(HandleWebSocket(hub, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?subscriber_id=sub-1"
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(NewMessage("subscriber", "applied", "sub-2", nil))
	hub.Broadcast(NewMessage("subscriber", "applied", "sub-1", nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "subscriber_applied" || got.ID != "sub-1" {
		t.Errorf("got %+v, want the sub-1 message only", got)
	}
}
