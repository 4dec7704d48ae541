package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/events"
)

// NATSConfig holds connection settings for the NATS transport
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS settings
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "estimate-client",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATS carries session events on core NATS subjects.
type NATS struct {
	nc *nats.Conn
}

// NewNATS connects to the server in cfg.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{nc: nc}, nil
}

// NewNATSFromConn wraps an existing connection.
func NewNATSFromConn(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

func (n *NATS) Subscribe(_ context.Context, code string, h Handler) (Subscription, error) {
	subject := Subject(code)
	sub, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to process message")
			return
		}
		h(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	log.Debug().Str("subject", subject).Msg("subscribed to session events")
	return sub, nil
}

func (n *NATS) Publish(_ context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	if err := n.nc.Publish(Subject(env.SessionCode), data); err != nil {
		return fmt.Errorf("publish %s: %w", env.EventType, err)
	}
	return nil
}

func (n *NATS) Connected() bool {
	return n.nc.IsConnected()
}

func (n *NATS) Reconnect(_ context.Context) error {
	if n.nc.IsConnected() {
		return nil
	}
	if err := n.nc.ForceReconnect(); err != nil {
		return fmt.Errorf("force NATS reconnect: %w", err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
