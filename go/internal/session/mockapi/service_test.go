package mockapi

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

type recorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *recorder) handle(env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, env.EventType)
}

func (r *recorder) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.types {
		if got == t {
			n++
		}
	}
	return n
}

func newService(t *testing.T, bots []Bot) (*Service, *channel.Memory, *clockwork.FakeClock) {
	t.Helper()
	bus := channel.NewMemory()
	t.Cleanup(func() { _ = bus.Close() })
	clock := clockwork.NewFakeClock()
	return New(bus, Options{Clock: clock, Bots: bots, Seed: 42}), bus, clock
}

func create(t *testing.T, svc *Service) *events.JoinResult {
	t.Helper()
	res, err := svc.CreateSession(context.Background(), events.Profile{Name: "Host", Emoji: "🎩"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return res
}

func votedCount(t *testing.T, svc *Service, code string) int {
	t.Helper()
	snap, err := svc.GetSession(context.Background(), code)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	n := 0
	for _, p := range snap.Participants {
		if p.HasVoted != nil && *p.HasVoted {
			n++
		}
	}
	return n
}

func TestCreateSession(t *testing.T) {
	svc, _, _ := newService(t, nil)
	res := create(t, svc)

	if len(res.Session.Code) != 6 {
		t.Errorf("code = %q, want 6 characters", res.Session.Code)
	}
	if res.Session.Status != events.StatusWaiting || res.Session.CurrentRound != 1 {
		t.Errorf("session = %+v", res.Session)
	}
	if !res.Participant.IsHost || res.Token == "" {
		t.Errorf("host = %+v token = %q", res.Participant, res.Token)
	}
	if len(res.Participants) != 0 {
		t.Errorf("fresh session lists %d participants", len(res.Participants))
	}
}

func TestBotsJoinAndVote(t *testing.T) {
	svc, bus, clock := newService(t, DefaultBots())
	ctx := context.Background()
	res := create(t, svc)
	code := res.Session.Code

	rec := &recorder{}
	if _, err := bus.Subscribe(ctx, code, rec.handle); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Second)
	waitFor(t, func() bool { return rec.count(events.EventTypeParticipantJoined) == 4 })

	if err := svc.StartVoting(ctx, code); err != nil {
		t.Fatalf("StartVoting: %v", err)
	}
	clock.Advance(13 * time.Second)
	waitFor(t, func() bool { return votedCount(t, svc, code) == 4 })

	if err := svc.SubmitVote(ctx, code, res.Participant.ID, vote.Points(5)); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if err := svc.RevealVotes(ctx, code); err != nil {
		t.Fatalf("RevealVotes: %v", err)
	}

	snap, _ := svc.GetSession(ctx, code)
	if len(snap.Votes) != 5 {
		t.Fatalf("revealed %d votes, want 5", len(snap.Votes))
	}
	for _, v := range snap.Votes {
		parsed, err := vote.Parse(v.CardValue)
		if err != nil || !vote.InCatalog(parsed) {
			t.Errorf("bot voted %q", v.CardValue)
		}
	}
	waitFor(t, func() bool {
		return rec.count(events.EventTypeVoteSubmitted) == 5 && rec.count(events.EventTypeCardsRevealed) == 1
	})
}

func TestBotsStopVotingAfterReveal(t *testing.T) {
	svc, _, clock := newService(t, []Bot{{Name: "Slow", MinDelay: 10 * time.Second, MaxDelay: 10 * time.Second}})
	ctx := context.Background()
	code := create(t, svc).Session.Code

	clock.Advance(time.Millisecond)
	waitFor(t, func() bool {
		snap, _ := svc.GetSession(ctx, code)
		return len(snap.Participants) == 2
	})

	if err := svc.StartVoting(ctx, code); err != nil {
		t.Fatal(err)
	}
	if err := svc.RevealVotes(ctx, code); err != nil {
		t.Fatal(err)
	}
	clock.Advance(11 * time.Second)
	time.Sleep(10 * time.Millisecond)

	snap, _ := svc.GetSession(ctx, code)
	if len(snap.Votes) != 0 {
		t.Fatalf("bot voted after reveal: %+v", snap.Votes)
	}
}

func TestSubmitVoteRules(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	res := create(t, svc)
	code, host := res.Session.Code, res.Participant.ID

	if err := svc.SubmitVote(ctx, code, host, vote.Points(3)); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("vote while waiting = %v, want ErrWrongPhase", err)
	}
	if err := svc.StartVoting(ctx, code); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		id   int64
		v    vote.Value
		want error
	}{
		{"off catalog", host, vote.Points(4), vote.ErrInvalidValue},
		{"unknown participant", 999, vote.Points(3), ErrParticipantNotFound},
		{"first vote", host, vote.Break, nil},
		{"second vote", host, vote.Points(8), ErrAlreadyVoted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SubmitVote(ctx, code, tt.id, tt.v)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SubmitVote = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := svc.GetSession(ctx, "NOPE99"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSession unknown = %v", err)
	}
}

func TestSnapshotHidesVotesUntilReveal(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	res := create(t, svc)
	code := res.Session.Code

	_ = svc.StartVoting(ctx, code)
	_ = svc.SubmitVote(ctx, code, res.Participant.ID, vote.Points(13))

	snap, _ := svc.GetSession(ctx, code)
	if len(snap.Votes) != 0 {
		t.Fatalf("votes visible while voting: %+v", snap.Votes)
	}
	if votedCount(t, svc, code) != 1 {
		t.Fatal("has_voted flag missing")
	}

	_ = svc.RevealVotes(ctx, code)
	snap, _ = svc.GetSession(ctx, code)
	if len(snap.Votes) != 1 || snap.Votes[0].CardValue != "13" {
		t.Fatalf("revealed votes = %+v", snap.Votes)
	}
}

func TestNextRound(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	res := create(t, svc)
	code := res.Session.Code

	if err := svc.NextRound(ctx, code); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("NextRound before reveal = %v", err)
	}
	_ = svc.StartVoting(ctx, code)
	_ = svc.SubmitVote(ctx, code, res.Participant.ID, vote.Points(2))
	_ = svc.RevealVotes(ctx, code)

	if err := svc.NextRound(ctx, code); err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	snap, _ := svc.GetSession(ctx, code)
	if snap.CurrentRound != 2 || snap.Status != events.StatusVoting {
		t.Fatalf("after next round: round %d status %s", snap.CurrentRound, snap.Status)
	}
	if votedCount(t, svc, code) != 0 {
		t.Fatal("votes carried into the next round")
	}
}

func TestLeaveAndRemove(t *testing.T) {
	svc, bus, _ := newService(t, nil)
	ctx := context.Background()
	res := create(t, svc)
	code := res.Session.Code

	rec := &recorder{}
	if _, err := bus.Subscribe(ctx, code, rec.handle); err != nil {
		t.Fatal(err)
	}

	a, _ := svc.JoinSession(ctx, code, events.Profile{Name: "A"})
	b, _ := svc.JoinSession(ctx, code, events.Profile{})
	if b.Participant.Name != "Anonymous" {
		t.Errorf("empty profile joined as %q", b.Participant.Name)
	}
	if len(b.Participants) != 3 {
		t.Fatalf("join listed %d participants, want 3", len(b.Participants))
	}

	if err := svc.RemoveParticipant(ctx, code, res.Participant.ID); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("removing the host = %v", err)
	}
	if err := svc.RemoveParticipant(ctx, code, a.Participant.ID); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if err := svc.LeaveSession(ctx, code, b.Participant.ID); err != nil {
		t.Fatalf("LeaveSession: %v", err)
	}
	if err := svc.LeaveSession(ctx, code, b.Participant.ID); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("second leave = %v", err)
	}

	if err := svc.LeaveSession(ctx, code, res.Participant.ID); err != nil {
		t.Fatalf("host leave: %v", err)
	}
	if svc.Sessions() != 0 {
		t.Fatal("host leaving kept the session")
	}
	waitFor(t, func() bool {
		return rec.count(events.EventTypeParticipantRemoved) == 1 &&
			rec.count(events.EventTypeParticipantLeft) == 1 &&
			rec.count(events.EventTypeSessionEnded) == 1
	})
}

func TestRandomCardStaysInCatalog(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seen := make(map[vote.Value]int)
	for range 2000 {
		v := RandomCard(rng)
		if !vote.InCatalog(v) {
			t.Fatalf("RandomCard returned %v", v)
		}
		seen[v]++
	}
	if len(seen) < 8 {
		t.Errorf("only %d distinct cards in 2000 draws", len(seen))
	}
	if seen[vote.Points(5)] <= seen[vote.Break] {
		t.Errorf("weighting ignored: 5 drawn %d times, coffee %d", seen[vote.Points(5)], seen[vote.Break])
	}
}
