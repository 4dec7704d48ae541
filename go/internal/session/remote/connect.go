package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// Connect procedure names of the session service.
const (
	SessionServiceName = "estimate.v1.SessionService"

	CreateSessionProcedure     = "/" + SessionServiceName + "/CreateSession"
	JoinSessionProcedure       = "/" + SessionServiceName + "/JoinSession"
	GetSessionProcedure        = "/" + SessionServiceName + "/GetSession"
	LeaveSessionProcedure      = "/" + SessionServiceName + "/LeaveSession"
	StartVotingProcedure       = "/" + SessionServiceName + "/StartVoting"
	SubmitVoteProcedure        = "/" + SessionServiceName + "/SubmitVote"
	RevealVotesProcedure       = "/" + SessionServiceName + "/RevealVotes"
	NextRoundProcedure         = "/" + SessionServiceName + "/NextRound"
	RemoveParticipantProcedure = "/" + SessionServiceName + "/RemoveParticipant"
)

// JSONCodec carries plain Go structs as JSON on the Connect protocol.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Connect request messages.
type (
	JoinRequest struct {
		Code  string `json:"code"`
		Name  string `json:"name"`
		Emoji string `json:"emoji"`
	}
	CodeRequest struct {
		Code string `json:"code"`
	}
	ParticipantRequest struct {
		Code          string `json:"code"`
		ParticipantID int64  `json:"participant_id"`
	}
	SubmitVoteRequest struct {
		Code          string `json:"code"`
		ParticipantID int64  `json:"participant_id"`
		CardValue     string `json:"card_value"`
	}
	Empty struct{}
)

// NewH2CClient returns an HTTP client speaking cleartext HTTP/2.
func NewH2CClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// ConnectClient talks to the session service over the Connect protocol.
type ConnectClient struct {
	create       *connect.Client[events.Profile, events.JoinResult]
	join         *connect.Client[JoinRequest, events.JoinResult]
	get          *connect.Client[CodeRequest, events.Snapshot]
	leave        *connect.Client[ParticipantRequest, Empty]
	start        *connect.Client[CodeRequest, Empty]
	submit       *connect.Client[SubmitVoteRequest, Empty]
	reveal       *connect.Client[CodeRequest, Empty]
	nextRound    *connect.Client[CodeRequest, Empty]
	removeMember *connect.Client[ParticipantRequest, Empty]

	tokens TokenStore

	mu    sync.RWMutex
	token string
}

// NewConnectClient creates a Connect client rooted at baseURL.
func NewConnectClient(httpClient connect.HTTPClient, baseURL string, tokens TokenStore) *ConnectClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts := []connect.ClientOption{connect.WithCodec(JSONCodec{})}
	return &ConnectClient{
		create:       connect.NewClient[events.Profile, events.JoinResult](httpClient, baseURL+CreateSessionProcedure, opts...),
		join:         connect.NewClient[JoinRequest, events.JoinResult](httpClient, baseURL+JoinSessionProcedure, opts...),
		get:          connect.NewClient[CodeRequest, events.Snapshot](httpClient, baseURL+GetSessionProcedure, opts...),
		leave:        connect.NewClient[ParticipantRequest, Empty](httpClient, baseURL+LeaveSessionProcedure, opts...),
		start:        connect.NewClient[CodeRequest, Empty](httpClient, baseURL+StartVotingProcedure, opts...),
		submit:       connect.NewClient[SubmitVoteRequest, Empty](httpClient, baseURL+SubmitVoteProcedure, opts...),
		reveal:       connect.NewClient[CodeRequest, Empty](httpClient, baseURL+RevealVotesProcedure, opts...),
		nextRound:    connect.NewClient[CodeRequest, Empty](httpClient, baseURL+NextRoundProcedure, opts...),
		removeMember: connect.NewClient[ParticipantRequest, Empty](httpClient, baseURL+RemoveParticipantProcedure, opts...),
		tokens:       tokens,
	}
}

func authorize[T any](c *ConnectClient, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		req.Header().Set("Authorization", "Bearer "+c.token)
	}
	return req
}

func (c *ConnectClient) setToken(ctx context.Context, token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	if c.tokens != nil {
		_ = c.tokens.SaveToken(ctx, token)
	}
}

// RestoreToken loads a persisted token.
func (c *ConnectClient) RestoreToken(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.LoadToken(ctx)
	if err != nil {
		return fmt.Errorf("connect.RestoreToken: %w", err)
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *ConnectClient) CreateSession(ctx context.Context, profile events.Profile) (*events.JoinResult, error) {
	res, err := c.create.CallUnary(ctx, authorize(c, &profile))
	if err != nil {
		return nil, fmt.Errorf("connect.CreateSession: %w", err)
	}
	c.setToken(ctx, res.Msg.Token)
	return res.Msg, nil
}

func (c *ConnectClient) JoinSession(ctx context.Context, code string, profile events.Profile) (*events.JoinResult, error) {
	res, err := c.join.CallUnary(ctx, authorize(c, &JoinRequest{Code: code, Name: profile.Name, Emoji: profile.Emoji}))
	if err != nil {
		return nil, fmt.Errorf("connect.JoinSession: %w", err)
	}
	c.setToken(ctx, res.Msg.Token)
	return res.Msg, nil
}

func (c *ConnectClient) GetSession(ctx context.Context, code string) (*events.Snapshot, error) {
	res, err := c.get.CallUnary(ctx, authorize(c, &CodeRequest{Code: code}))
	if err != nil {
		return nil, fmt.Errorf("connect.GetSession: %w", err)
	}
	return res.Msg, nil
}

func (c *ConnectClient) LeaveSession(ctx context.Context, code string, participantID int64) error {
	_, err := c.leave.CallUnary(ctx, authorize(c, &ParticipantRequest{Code: code, ParticipantID: participantID}))
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if c.tokens != nil {
		_ = c.tokens.ClearToken(ctx)
	}
	if err != nil {
		return fmt.Errorf("connect.LeaveSession: %w", err)
	}
	return nil
}

func (c *ConnectClient) StartVoting(ctx context.Context, code string) error {
	if _, err := c.start.CallUnary(ctx, authorize(c, &CodeRequest{Code: code})); err != nil {
		return fmt.Errorf("connect.StartVoting: %w", err)
	}
	return nil
}

func (c *ConnectClient) SubmitVote(ctx context.Context, code string, participantID int64, value vote.Value) error {
	req := &SubmitVoteRequest{Code: code, ParticipantID: participantID, CardValue: value.String()}
	if _, err := c.submit.CallUnary(ctx, authorize(c, req)); err != nil {
		return fmt.Errorf("connect.SubmitVote: %w", err)
	}
	return nil
}

func (c *ConnectClient) RevealVotes(ctx context.Context, code string) error {
	if _, err := c.reveal.CallUnary(ctx, authorize(c, &CodeRequest{Code: code})); err != nil {
		return fmt.Errorf("connect.RevealVotes: %w", err)
	}
	return nil
}

func (c *ConnectClient) NextRound(ctx context.Context, code string) error {
	if _, err := c.nextRound.CallUnary(ctx, authorize(c, &CodeRequest{Code: code})); err != nil {
		return fmt.Errorf("connect.NextRound: %w", err)
	}
	return nil
}

func (c *ConnectClient) RemoveParticipant(ctx context.Context, code string, participantID int64) error {
	if _, err := c.removeMember.CallUnary(ctx, authorize(c, &ParticipantRequest{Code: code, ParticipantID: participantID})); err != nil {
		return fmt.Errorf("connect.RemoveParticipant: %w", err)
	}
	return nil
}
