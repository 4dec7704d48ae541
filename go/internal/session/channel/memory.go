package channel

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/events"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("channel closed")

// Memory is an in-process bus. Each subscription drains its own queue on a
// dedicated goroutine, so handlers may publish or unsubscribe freely.
type Memory struct {
	mu         sync.Mutex
	subs       map[string]map[*memorySub]struct{}
	connected  bool
	closed     bool
	reconnects int
}

func NewMemory() *Memory {
	return &Memory{
		subs:      make(map[string]map[*memorySub]struct{}),
		connected: true,
	}
}

func (m *Memory) Subscribe(_ context.Context, code string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	key := strings.ToUpper(code)
	sub := &memorySub{
		mem:  m,
		code: key,
		h:    h,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if m.subs[key] == nil {
		m.subs[key] = make(map[*memorySub]struct{})
	}
	m.subs[key][sub] = struct{}{}
	go sub.run()
	return sub, nil
}

func (m *Memory) Publish(_ context.Context, env events.Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var targets []*memorySub
	for s := range m.subs[strings.ToUpper(env.SessionCode)] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.push(env)
	}
	log.Debug().
		Str("event_type", string(env.EventType)).
		Str("session_code", env.SessionCode).
		Int("subscribers", len(targets)).
		Msg("event published")
	return nil
}

// SetConnected simulates a dropped or restored connection.
func (m *Memory) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

func (m *Memory) Reconnect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.connected = true
	m.reconnects++
	return nil
}

// Reconnects returns how many times Reconnect was called.
func (m *Memory) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Subscribers returns the number of live subscriptions for code.
func (m *Memory) Subscribers(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[strings.ToUpper(code)])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySub
	for _, set := range m.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	m.subs = make(map[string]map[*memorySub]struct{})
	m.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	return nil
}

func (m *Memory) remove(s *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[s.code]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m.subs, s.code)
		}
	}
}

type memorySub struct {
	mem  *Memory
	code string
	h    Handler

	mu     sync.Mutex
	queue  []events.Envelope
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func (s *memorySub) push(env events.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) next() (events.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return events.Envelope{}, false
	}
	env := s.queue[0]
	s.queue = s.queue[1:]
	return env, true
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			env, ok := s.next()
			if !ok {
				break
			}
			s.h(env)
		}
	}
}

func (s *memorySub) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	return true
}

func (s *memorySub) Unsubscribe() error {
	if s.stop() {
		s.mem.remove(s)
	}
	return nil
}
