// Package watchdog refreshes the session when the client comes back to the
// foreground, reconnecting the event channel first when it dropped.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Visibility is the foreground state of the client.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
)

func (v Visibility) String() string {
	if v == Visible {
		return "visible"
	}
	return "hidden"
}

// Source reports visibility changes. Listen returns a function that removes
// the listener.
type Source interface {
	Listen(fn func(Visibility)) (cancel func())
}

// Refresher refetches authoritative session state.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Connection is the event channel's connection state.
type Connection interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}

const defaultTimeout = 10 * time.Second

// Watchdog keeps at most one visibility listener, attached only while a
// session is active.
type Watchdog struct {
	source    Source
	refresher Refresher
	conn      Connection
	timeout   time.Duration

	mu     sync.Mutex
	cancel func()
	code   string
}

func New(source Source, refresher Refresher, conn Connection) *Watchdog {
	return &Watchdog{
		source:    source,
		refresher: refresher,
		conn:      conn,
		timeout:   defaultTimeout,
	}
}

// SetTimeout bounds the reconnect and refresh calls made on each wake-up.
func (w *Watchdog) SetTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = d
}

// SessionStarted attaches the listener, replacing any earlier one.
func (w *Watchdog) SessionStarted(code string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	w.code = code
	w.cancel = w.source.Listen(w.onVisibility)
	log.Debug().Str("session_code", code).Msg("watchdog attached")
}

// SessionEnded detaches the listener.
func (w *Watchdog) SessionEnded(code string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.cancel = nil
	w.code = ""
	log.Debug().Str("session_code", code).Msg("watchdog detached")
}

// Attached reports whether a listener is registered.
func (w *Watchdog) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Watchdog) onVisibility(v Visibility) {
	w.mu.Lock()
	code, timeout, attached := w.code, w.timeout, w.cancel != nil
	w.mu.Unlock()
	if !attached || v != Visible {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if !w.conn.Connected() {
		log.Info().Str("session_code", code).Msg("channel disconnected, reconnecting")
		if err := w.conn.Reconnect(ctx); err != nil {
			log.Error().Err(err).Str("session_code", code).Msg("reconnect failed")
		}
	}
	if err := w.refresher.Refresh(ctx); err != nil {
		log.Error().Err(err).Str("session_code", code).Msg("refresh failed")
	}
}

// Notifier is a Source driven by explicit calls to Notify.
type Notifier struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Visibility)
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[int]func(Visibility))}
}

func (n *Notifier) Listen(fn func(Visibility)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Notify calls every listener synchronously.
func (n *Notifier) Notify(v Visibility) {
	n.mu.Lock()
	fns := make([]func(Visibility), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Listeners returns the number of registered listeners.
func (n *Notifier) Listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
