package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/clients"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// DefaultBaseURL is used when no API URL is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// StatusError is a non-2xx response from the session service.
type StatusError = clients.StatusError

// TokenStore persists the bearer token issued on create and join.
type TokenStore interface {
	SaveToken(ctx context.Context, token string) error
	LoadToken(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

// Client talks to the session service over its JSON REST API.
type Client struct {
	base   *clients.BaseClient
	tokens TokenStore
}

// NewClient creates a REST client. tokens may be nil, in which case the
// token lives only in memory.
func NewClient(baseURL string, tokens TokenStore) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		base:   clients.NewBaseClient(baseURL),
		tokens: tokens,
	}
}

// SetTimeout bounds every request.
func (c *Client) SetTimeout(d time.Duration) { c.base.SetTimeout(d) }

// SetHTTPClient swaps the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) { c.base.SetHTTPClient(hc) }

// RestoreToken loads a persisted token so a rejoined session is authorised.
func (c *Client) RestoreToken(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.LoadToken(ctx)
	if err != nil {
		return fmt.Errorf("client.RestoreToken: %w", err)
	}
	c.setToken(token)
	return nil
}

func (c *Client) setToken(token string) {
	if token == "" {
		c.base.SetHeader("Authorization", "")
		return
	}
	c.base.SetHeader("Authorization", "Bearer "+token)
}

func (c *Client) rememberToken(ctx context.Context, token string) {
	if token == "" {
		return
	}
	c.setToken(token)
	if c.tokens == nil {
		return
	}
	if err := c.tokens.SaveToken(ctx, token); err != nil {
		log.Warn().Err(err).Msg("failed to persist auth token")
	}
}

func sessionPath(code string, parts ...string) string {
	p := "/sessions/" + url.PathEscape(code)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) CreateSession(ctx context.Context, profile events.Profile) (*events.JoinResult, error) {
	var res events.JoinResult
	if err := c.base.Post(ctx, "/sessions", profile, &res); err != nil {
		return nil, fmt.Errorf("client.CreateSession: %w", err)
	}
	c.rememberToken(ctx, res.Token)
	return &res, nil
}

func (c *Client) JoinSession(ctx context.Context, code string, profile events.Profile) (*events.JoinResult, error) {
	var res events.JoinResult
	if err := c.base.Post(ctx, sessionPath(code, "join"), profile, &res); err != nil {
		return nil, fmt.Errorf("client.JoinSession: %w", err)
	}
	c.rememberToken(ctx, res.Token)
	return &res, nil
}

func (c *Client) GetSession(ctx context.Context, code string) (*events.Snapshot, error) {
	var snap events.Snapshot
	if err := c.base.Get(ctx, sessionPath(code), &snap); err != nil {
		return nil, fmt.Errorf("client.GetSession: %w", err)
	}
	return &snap, nil
}

// LeaveSession removes the participant and forgets the token whether or
// not the call succeeded.
func (c *Client) LeaveSession(ctx context.Context, code string, participantID int64) error {
	err := c.base.Delete(ctx, sessionPath(code, "participants", fmt.Sprint(participantID)))
	c.setToken("")
	if c.tokens != nil {
		if cerr := c.tokens.ClearToken(ctx); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to clear auth token")
		}
	}
	if err != nil {
		return fmt.Errorf("client.LeaveSession: %w", err)
	}
	return nil
}

func (c *Client) StartVoting(ctx context.Context, code string) error {
	if err := c.base.Post(ctx, sessionPath(code, "start"), nil, nil); err != nil {
		return fmt.Errorf("client.StartVoting: %w", err)
	}
	return nil
}

func (c *Client) SubmitVote(ctx context.Context, code string, participantID int64, value vote.Value) error {
	req := events.VoteRequest{ParticipantID: participantID, CardValue: value.String()}
	if err := c.base.Post(ctx, sessionPath(code, "vote"), req, nil); err != nil {
		return fmt.Errorf("client.SubmitVote: %w", err)
	}
	return nil
}

func (c *Client) RevealVotes(ctx context.Context, code string) error {
	if err := c.base.Post(ctx, sessionPath(code, "reveal"), nil, nil); err != nil {
		return fmt.Errorf("client.RevealVotes: %w", err)
	}
	return nil
}

func (c *Client) NextRound(ctx context.Context, code string) error {
	if err := c.base.Post(ctx, sessionPath(code, "next-round"), nil, nil); err != nil {
		return fmt.Errorf("client.NextRound: %w", err)
	}
	return nil
}

func (c *Client) RemoveParticipant(ctx context.Context, code string, participantID int64) error {
	if err := c.base.Post(ctx, sessionPath(code, "participants", fmt.Sprint(participantID), "remove"), nil, nil); err != nil {
		return fmt.Errorf("client.RemoveParticipant: %w", err)
	}
	return nil
}
