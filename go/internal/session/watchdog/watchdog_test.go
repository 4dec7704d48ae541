package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu         sync.Mutex
	connected  bool
	reconnects int
	order      *[]string
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	c.connected = true
	*c.order = append(*c.order, "reconnect")
	return nil
}

type fakeRefresher struct {
	refreshes int
	err       error
	order     *[]string
}

func (r *fakeRefresher) Refresh(context.Context) error {
	r.refreshes++
	*r.order = append(*r.order, "refresh")
	return r.err
}

func newWatchdog(connected bool) (*Watchdog, *Notifier, *fakeConn, *fakeRefresher, *[]string) {
	var order []string
	n := NewNotifier()
	c := &fakeConn{connected: connected, order: &order}
	r := &fakeRefresher{order: &order}
	return New(n, r, c), n, c, r, &order
}

func TestVisibleWhileConnectedOnlyRefreshes(t *testing.T) {
	w, n, c, r, _ := newWatchdog(true)
	w.SessionStarted("ABC123")

	n.Notify(Visible)

	if r.refreshes != 1 || c.reconnects != 0 {
		t.Fatalf("refreshes=%d reconnects=%d", r.refreshes, c.reconnects)
	}
}

func TestVisibleWhileDisconnectedReconnectsThenRefreshes(t *testing.T) {
	w, n, _, _, order := newWatchdog(false)
	w.SessionStarted("ABC123")

	n.Notify(Visible)

	if len(*order) != 2 || (*order)[0] != "reconnect" || (*order)[1] != "refresh" {
		t.Fatalf("order = %v", *order)
	}
}

func TestHiddenDoesNothing(t *testing.T) {
	w, n, c, r, _ := newWatchdog(false)
	w.SessionStarted("ABC123")

	n.Notify(Hidden)

	if r.refreshes != 0 || c.reconnects != 0 {
		t.Fatalf("refreshes=%d reconnects=%d", r.refreshes, c.reconnects)
	}
}

func TestExactlyOneListenerPerSession(t *testing.T) {
	w, n, _, r, _ := newWatchdog(true)

	w.SessionStarted("ABC123")
	w.SessionStarted("ABC123")
	if n.Listeners() != 1 {
		t.Fatalf("listeners = %d, want 1", n.Listeners())
	}

	n.Notify(Visible)
	if r.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", r.refreshes)
	}

	w.SessionEnded("ABC123")
	w.SessionEnded("ABC123")
	if n.Listeners() != 0 || w.Attached() {
		t.Fatal("listener not removed")
	}
	n.Notify(Visible)
	if r.refreshes != 1 {
		t.Fatal("refresh after session ended")
	}
}

func TestRefreshErrorIsContained(t *testing.T) {
	w, n, _, r, _ := newWatchdog(true)
	r.err = errors.New("network down")
	w.SessionStarted("ABC123")

	n.Notify(Visible)
	n.Notify(Visible)
	if r.refreshes != 2 {
		t.Fatalf("refreshes = %d", r.refreshes)
	}
}
