// Package remotesync binds the session state machine to the remote session
// service and its event channel.
package remotesync

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// Adapter implements state.Backend on top of a remote service and a
// transport. Every action is exactly one remote call; failures come back as
// *state.RemoteError and are never retried.
type Adapter struct {
	service   state.Service
	transport channel.Transport

	mu   sync.Mutex
	sub  channel.Subscription
	code string
}

var _ state.Backend = (*Adapter)(nil)

func New(service state.Service, transport channel.Transport) *Adapter {
	return &Adapter{service: service, transport: transport}
}

func (a *Adapter) CreateSession(ctx context.Context, profile events.Profile) (*events.JoinResult, error) {
	res, err := a.service.CreateSession(ctx, profile)
	if err != nil {
		return nil, state.AsRemote("create", err)
	}
	return res, nil
}

func (a *Adapter) JoinSession(ctx context.Context, code string, profile events.Profile) (*events.JoinResult, error) {
	res, err := a.service.JoinSession(ctx, code, profile)
	if err != nil {
		return nil, state.AsRemote("join", err)
	}
	return res, nil
}

func (a *Adapter) GetSession(ctx context.Context, code string) (*events.Snapshot, error) {
	snap, err := a.service.GetSession(ctx, code)
	if err != nil {
		return nil, state.AsRemote("get session", err)
	}
	return snap, nil
}

func (a *Adapter) LeaveSession(ctx context.Context, code string, participantID int64) error {
	return state.AsRemote("leave", a.service.LeaveSession(ctx, code, participantID))
}

func (a *Adapter) StartVoting(ctx context.Context, code string) error {
	return state.AsRemote("start voting", a.service.StartVoting(ctx, code))
}

func (a *Adapter) SubmitVote(ctx context.Context, code string, participantID int64, value vote.Value) error {
	return state.AsRemote("vote", a.service.SubmitVote(ctx, code, participantID, value))
}

func (a *Adapter) RevealVotes(ctx context.Context, code string) error {
	return state.AsRemote("reveal", a.service.RevealVotes(ctx, code))
}

func (a *Adapter) NextRound(ctx context.Context, code string) error {
	return state.AsRemote("next round", a.service.NextRound(ctx, code))
}

func (a *Adapter) RemoveParticipant(ctx context.Context, code string, participantID int64) error {
	return state.AsRemote("remove participant", a.service.RemoveParticipant(ctx, code, participantID))
}

// Subscribe opens the event channel for code, replacing any previous one.
// Unknown event types and envelopes for other sessions are dropped here.
func (a *Adapter) Subscribe(ctx context.Context, code string, sink state.EventSink) error {
	a.Unsubscribe()

	code = strings.ToUpper(code)
	sub, err := a.transport.Subscribe(ctx, code, func(env events.Envelope) {
		if !strings.EqualFold(env.SessionCode, code) {
			log.Debug().Str("session_code", env.SessionCode).Msg("dropping event for another session")
			return
		}
		if !events.Known(env.EventType) {
			log.Warn().Str("event_type", string(env.EventType)).Str("event_id", env.EventID).Msg("dropping unknown event")
			return
		}
		// handlers run on the transport goroutine; detach from the subscribe call's deadline
		sink.HandleEvent(context.WithoutCancel(ctx), env)
	})
	if err != nil {
		return state.AsRemote("subscribe", err)
	}

	a.mu.Lock()
	a.sub = sub
	a.code = code
	a.mu.Unlock()
	log.Info().Str("session_code", code).Msg("subscribed to session channel")
	return nil
}

// Unsubscribe closes the current subscription. Calling it with no active
// subscription is a no-op.
func (a *Adapter) Unsubscribe() {
	a.mu.Lock()
	sub, code := a.sub, a.code
	a.sub, a.code = nil, ""
	a.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("session_code", code).Msg("failed to unsubscribe")
		return
	}
	log.Info().Str("session_code", code).Msg("unsubscribed from session channel")
}

// Connected reports the transport's connection state.
func (a *Adapter) Connected() bool {
	return a.transport.Connected()
}

// Reconnect re-establishes the transport.
func (a *Adapter) Reconnect(ctx context.Context) error {
	return state.AsRemote("reconnect", a.transport.Reconnect(ctx))
}
