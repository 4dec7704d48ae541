package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/estimate/go/internal/session/events"
)

// Handler receives envelopes for one subscription. Calls for a single
// subscription are sequential and in arrival order.
type Handler func(env events.Envelope)

// Subscription is a live registration on a session channel.
type Subscription interface {
	Unsubscribe() error
}

// Transport delivers session events to subscribers.
type Transport interface {
	Subscribe(ctx context.Context, code string, h Handler) (Subscription, error)
	// Connected reports whether the underlying connection is usable.
	Connected() bool
	// Reconnect re-establishes a dropped connection.
	Reconnect(ctx context.Context) error
	Close() error
}

// Publisher sends envelopes to everyone subscribed to the envelope's session.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Fanout publishes every envelope to each of its publishers in turn and
// joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, env events.Envelope) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subject returns the NATS subject for a session's events.
func Subject(code string) string {
	return fmt.Sprintf("session.%s.events", strings.ToUpper(code))
}

func decodeEnvelope(data []byte) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return env, nil
}
