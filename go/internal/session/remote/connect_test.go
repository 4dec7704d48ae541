package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

func TestConnectClientRoundTrip(t *testing.T) {
	var gotVote SubmitVoteRequest
	var gotAuth string

	mux := http.NewServeMux()
	opt := connect.WithCodec(JSONCodec{})
	mux.Handle(JoinSessionProcedure, connect.NewUnaryHandler(JoinSessionProcedure,
		func(_ context.Context, req *connect.Request[JoinRequest]) (*connect.Response[events.JoinResult], error) {
			if req.Msg.Code != "ABC123" {
				return nil, connect.NewError(connect.CodeNotFound, errors.New("session not found"))
			}
			return connect.NewResponse(&events.JoinResult{
				Session:     events.SessionInfo{Code: req.Msg.Code, Status: events.StatusVoting, CurrentRound: 3},
				Participant: events.ParticipantRecord{ID: 5, Name: req.Msg.Name, Emoji: req.Msg.Emoji},
				Token:       "tok-c",
			}), nil
		}, opt))
	mux.Handle(SubmitVoteProcedure, connect.NewUnaryHandler(SubmitVoteProcedure,
		func(_ context.Context, req *connect.Request[SubmitVoteRequest]) (*connect.Response[Empty], error) {
			gotVote = *req.Msg
			gotAuth = req.Header().Get("Authorization")
			return connect.NewResponse(&Empty{}), nil
		}, opt))

	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := &memTokens{}
	c := NewConnectClient(srv.Client(), srv.URL, tokens)
	ctx := context.Background()

	res, err := c.JoinSession(ctx, "ABC123", events.Profile{Name: "Bo", Emoji: "🐻"})
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if res.Participant.ID != 5 || res.Session.CurrentRound != 3 {
		t.Fatalf("join result = %+v", res)
	}
	if tokens.token != "tok-c" {
		t.Fatalf("token = %q", tokens.token)
	}

	if err := c.SubmitVote(ctx, "ABC123", 5, vote.Break); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if gotVote.CardValue != "coffee" || gotVote.ParticipantID != 5 {
		t.Fatalf("vote = %+v", gotVote)
	}
	if gotAuth != "Bearer tok-c" {
		t.Fatalf("Authorization = %q", gotAuth)
	}

	_, err = c.JoinSession(ctx, "ZZZ999", events.Profile{})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
}
