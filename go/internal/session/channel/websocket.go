package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig holds configuration for WebSocket subscriptions
type WebSocketConfig struct {
	// URL is the session endpoint, e.g. ws://localhost:8000/ws/session.
	URL            string
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	Dialer         *websocket.Dialer
}

// DefaultWebSocketConfig returns default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:            "ws://localhost:8000/ws/session",
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
		Dialer:         websocket.DefaultDialer,
	}
}

// WebSocket opens one connection per subscribed session.
type WebSocket struct {
	config WebSocketConfig

	mu     sync.Mutex
	subs   map[*wsSubscription]struct{}
	closed bool
}

func NewWebSocket(config WebSocketConfig) *WebSocket {
	def := DefaultWebSocketConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.Dialer == nil {
		config.Dialer = def.Dialer
	}
	return &WebSocket{
		config: config,
		subs:   make(map[*wsSubscription]struct{}),
	}
}

func (w *WebSocket) endpoint(code string) (string, error) {
	u, err := url.Parse(w.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("code", strings.ToUpper(code))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *WebSocket) Subscribe(ctx context.Context, code string, h Handler) (Subscription, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	w.mu.Unlock()

	endpoint, err := w.endpoint(code)
	if err != nil {
		return nil, err
	}
	sub := &wsSubscription{
		transport: w,
		endpoint:  endpoint,
		code:      strings.ToUpper(code),
		h:         h,
	}
	if err := sub.dial(ctx); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.subs[sub] = struct{}{}
	w.mu.Unlock()
	return sub, nil
}

// Connected is true when every live subscription has an open connection.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	for s := range w.subs {
		if !s.connected() {
			return false
		}
	}
	return true
}

// Reconnect re-dials every subscription whose connection dropped.
func (w *WebSocket) Reconnect(ctx context.Context) error {
	w.mu.Lock()
	var dropped []*wsSubscription
	for s := range w.subs {
		if !s.connected() {
			dropped = append(dropped, s)
		}
	}
	w.mu.Unlock()

	for _, s := range dropped {
		if err := s.dial(ctx); err != nil {
			return err
		}
		log.Info().Str("session_code", s.code).Msg("websocket reconnected")
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.closed = true
	subs := w.subs
	w.subs = make(map[*wsSubscription]struct{})
	w.mu.Unlock()

	for s := range subs {
		s.close()
	}
	return nil
}

func (w *WebSocket) remove(s *wsSubscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, s)
}

type wsSubscription struct {
	transport *WebSocket
	endpoint  string
	code      string
	h         Handler

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	live    bool
	stopped bool
}

func (s *wsSubscription) dial(ctx context.Context) error {
	cfg := s.transport.config
	conn, _, err := cfg.Dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	if s.done != nil {
		// retire the pumps of the dropped connection
		close(s.done)
	}
	done := make(chan struct{})
	s.conn = conn
	s.done = done
	s.live = true
	s.mu.Unlock()

	go s.writePump(conn, done)
	go s.readPump(conn, done)

	log.Debug().Str("session_code", s.code).Msg("websocket subscription established")
	return nil
}

func (s *wsSubscription) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// dropped marks conn as dead unless a newer connection replaced it.
func (s *wsSubscription) dropped(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.live = false
	}
}

// writePump sends pings so the server keeps the connection open
func (s *wsSubscription) writePump(conn *websocket.Conn, done chan struct{}) {
	cfg := s.transport.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("session_code", s.code).Msg("failed to send ping")
				s.dropped(conn)
				conn.Close()
				return
			}
		}
	}
}

// readPump delivers envelopes until the connection fails or is closed
func (s *wsSubscription) readPump(conn *websocket.Conn, done chan struct{}) {
	cfg := s.transport.config
	defer conn.Close()

	conn.SetReadLimit(cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("session_code", s.code).Msg("unexpected WebSocket close error")
				}
				s.dropped(conn)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		env, err := decodeEnvelope(message)
		if err != nil {
			log.Error().Err(err).Str("session_code", s.code).Msg("failed to process message")
			continue
		}
		select {
		case <-done:
			return
		default:
		}
		s.h(env)
	}
}

func (s *wsSubscription) close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.live = false
	conn, done := s.conn, s.done
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		deadline := time.Now().Add(s.transport.config.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
}

// Unsubscribe closes the connection without waiting for the pumps, so it is
// safe to call from inside the handler.
func (s *wsSubscription) Unsubscribe() error {
	s.close()
	s.transport.remove(s)
	return nil
}
