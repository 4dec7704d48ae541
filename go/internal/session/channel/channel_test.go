package channel

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcdev12/estimate/go/internal/session/events"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

type collector struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (c *collector) handle(env events.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func (c *collector) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.EventType
	for _, e := range c.envs {
		out = append(out, e.EventType)
	}
	return out
}

func mustEnvelope(t *testing.T, code string, typ events.EventType) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(code, typ, events.VoteSubmittedPayload{ParticipantID: 1})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestSubject(t *testing.T) {
	if got := Subject("abc123"); got != "session.ABC123.events" {
		t.Fatalf("Subject = %s", got)
	}
}

func TestMemoryDeliversInOrderPerSession(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()
	ctx := context.Background()

	var mine, other collector
	if _, err := bus.Subscribe(ctx, "abc123", mine.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := bus.Subscribe(ctx, "ZZZ999", other.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	order := []events.EventType{
		events.EventTypeVotingStarted,
		events.EventTypeVoteSubmitted,
		events.EventTypeCardsRevealed,
	}
	for _, typ := range order {
		if err := bus.Publish(ctx, mustEnvelope(t, "ABC123", typ)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, func() bool { return mine.len() == 3 })
	for i, typ := range mine.types() {
		if typ != order[i] {
			t.Fatalf("event %d = %s, want %s", i, typ, order[i])
		}
	}
	if other.len() != 0 {
		t.Fatal("event leaked to another session")
	}
}

func TestMemoryUnsubscribeFromHandler(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()
	ctx := context.Background()

	var (
		sub   Subscription
		mu    sync.Mutex
		count int
	)
	ready := make(chan struct{})
	var err error
	sub, err = bus.Subscribe(ctx, "ABC123", func(events.Envelope) {
		<-ready
		mu.Lock()
		count++
		mu.Unlock()
		_ = sub.Unsubscribe()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	close(ready)

	_ = bus.Publish(ctx, mustEnvelope(t, "ABC123", events.EventTypeSessionEnded))
	waitFor(t, func() bool { return bus.Subscribers("ABC123") == 0 })
	_ = bus.Publish(ctx, mustEnvelope(t, "ABC123", events.EventTypeSessionEnded))
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("handler ran %d times, want 1", count)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
}

func TestMemoryConnectionState(t *testing.T) {
	bus := NewMemory()
	bus.SetConnected(false)
	if bus.Connected() {
		t.Fatal("expected disconnected")
	}
	if err := bus.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !bus.Connected() || bus.Reconnects() != 1 {
		t.Fatal("reconnect did not restore the connection")
	}
	bus.Close()
	if _, err := bus.Subscribe(context.Background(), "ABC123", func(events.Envelope) {}); err != ErrClosed {
		t.Fatalf("Subscribe after close err = %v", err)
	}
}

func newWebSocketPair(t *testing.T) (*Hub, *WebSocket) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ws := NewWebSocket(WebSocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"})
	t.Cleanup(func() { ws.Close() })
	return hub, ws
}

func TestWebSocketReceivesPublishedEvents(t *testing.T) {
	hub, ws := newWebSocketPair(t)
	ctx := context.Background()

	var got collector
	sub, err := ws.Subscribe(ctx, "abc123", got.handle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, func() bool { return hub.Connections("ABC123") == 1 })

	_ = hub.Publish(ctx, mustEnvelope(t, "ABC123", events.EventTypeVoteSubmitted))
	_ = hub.Publish(ctx, mustEnvelope(t, "OTHER1", events.EventTypeVoteSubmitted))
	waitFor(t, func() bool { return got.len() == 1 })

	if !ws.Connected() {
		t.Fatal("expected connected")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	waitFor(t, func() bool { return hub.Connections("ABC123") == 0 })
}

func TestWebSocketReconnectAfterDrop(t *testing.T) {
	hub, ws := newWebSocketPair(t)
	ctx := context.Background()

	var got collector
	if _, err := ws.Subscribe(ctx, "ABC123", got.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, func() bool { return hub.Connections("ABC123") == 1 })

	hub.DropAll()
	waitFor(t, func() bool { return !ws.Connected() })

	if err := ws.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !ws.Connected() {
		t.Fatal("expected connected after reconnect")
	}
	waitFor(t, func() bool { return hub.Connections("ABC123") == 1 })

	_ = hub.Publish(ctx, mustEnvelope(t, "ABC123", events.EventTypeCardsRevealed))
	waitFor(t, func() bool { return got.len() == 1 })
}

func TestHubPublishWhileClientsDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?code=ABC123"
	env := mustEnvelope(t, "ABC123", events.EventTypeVoteSubmitted)

	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		waitFor(t, func() bool { return hub.Connections("ABC123") == 1 })

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						_ = hub.Publish(context.Background(), env)
					}
				}
			}()
		}

		conn.Close()
		waitFor(t, func() bool { return hub.Connections("ABC123") == 0 })
		close(stop)
		wg.Wait()
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Envelope) error {
	return ErrClosed
}

func TestFanoutPublishesToEveryPublisher(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	defer a.Close()
	defer b.Close()

	ca, cb := &collector{}, &collector{}
	if _, err := a.Subscribe(context.Background(), "ABC123", ca.handle); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe(context.Background(), "ABC123", cb.handle); err != nil {
		t.Fatal(err)
	}

	env, _ := events.NewEnvelope("ABC123", events.EventTypeVotingStarted, events.VotingStartedPayload{Round: 1})
	err := Fanout{a, failingPublisher{}, b}.Publish(context.Background(), env)
	if err == nil {
		t.Fatal("Fanout hid the failing publisher's error")
	}
	waitFor(t, func() bool { return ca.len() == 1 && cb.len() == 1 })
}
