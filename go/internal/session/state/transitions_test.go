package state

import (
	"encoding/json"
	"testing"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

func votingState() State {
	three := vote.Points(3)
	s := initialState()
	s.Code = testCode
	s.Phase = PhaseVoting
	s.User = User{ID: 1, Name: "Ada", IsFacilitator: true}
	s.Participants = []Participant{
		{ID: 1, Name: "Ada", IsUser: true, IsFacilitator: true, HasVoted: true, Vote: &three},
		{ID: 2, Name: "Bo"},
		{ID: 3, Name: "Cy", HasVoted: true},
	}
	s.UserCard = &three
	return s
}

func payload(t *testing.T, v any) events.Envelope {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.Envelope{SessionCode: testCode, Payload: b}
}

func TestCloneIsDeep(t *testing.T) {
	orig := votingState()
	c := orig.Clone()

	c, _, err := participantLeft(c, payload(t, events.ParticipantLeftPayload{ParticipantID: 2}))
	if err != nil {
		t.Fatalf("participantLeft: %v", err)
	}
	*c.Participants[0].Vote = vote.Points(8)
	*c.UserCard = vote.Points(8)

	if len(orig.Participants) != 3 || orig.Participants[1].ID != 2 {
		t.Fatalf("clone shares the roster: %+v", orig.Participants)
	}
	if *orig.Participants[0].Vote != vote.Points(3) || *orig.UserCard != vote.Points(3) {
		t.Fatal("clone shares vote pointers")
	}
}

func TestCardsRevealedAssignsEveryParticipant(t *testing.T) {
	s, eff, err := cardsRevealed(votingState().Clone(), payload(t, events.CardsRevealedPayload{
		Round: 4,
		Votes: []events.RevealedVote{
			{ParticipantID: 1, CardValue: "1/2"},
			{ParticipantID: 2, CardValue: "coffee"},
			{ParticipantID: 3, CardValue: "not-a-card"},
		},
	}))
	if err != nil {
		t.Fatalf("cardsRevealed: %v", err)
	}
	if !eff.has(effectStopTimer) {
		t.Error("reveal must stop the countdown")
	}
	if s.Phase != PhaseRevealed || s.Round != 4 {
		t.Fatalf("phase=%s round=%d", s.Phase, s.Round)
	}
	if v := s.Participants[0].Vote; v == nil || *v != vote.Points(0.5) {
		t.Errorf("participant 1 vote = %v", v)
	}
	if v := s.Participants[1].Vote; v == nil || *v != vote.Break {
		t.Errorf("participant 2 vote = %v", v)
	}
	if p := s.Participants[2]; p.HasVoted || p.Vote != nil {
		t.Errorf("undecodable vote should leave participant 3 unvoted: %+v", p)
	}
	if s.UserCard == nil || *s.UserCard != vote.Points(0.5) {
		t.Errorf("user card = %v", s.UserCard)
	}
}

func TestVotingStartedSameRoundKeepsVotes(t *testing.T) {
	s, eff, err := votingStarted(false)(votingState().Clone(), payload(t, events.VotingStartedPayload{Round: 1, TimerSeconds: 20}))
	if err != nil {
		t.Fatalf("votingStarted: %v", err)
	}
	if eff != effectNone {
		t.Errorf("effect = %v, want none", eff)
	}
	if s.VotedCount() != 2 || s.TimerCeiling != 20 {
		t.Fatalf("voted=%d ceiling=%d", s.VotedCount(), s.TimerCeiling)
	}
}

func TestNextRoundWithoutRoundIncrements(t *testing.T) {
	in := votingState()
	in.Phase = PhaseRevealed
	s, eff, err := votingStarted(true)(in, events.Envelope{})
	if err != nil {
		t.Fatalf("votingStarted: %v", err)
	}
	if !eff.has(effectStartTimer) || s.Round != 2 || s.VotedCount() != 0 || s.UserCard != nil {
		t.Fatalf("eff=%v round=%d voted=%d", eff, s.Round, s.VotedCount())
	}
}

func TestVoteSubmittedAfterRevealIgnored(t *testing.T) {
	in := votingState()
	in.Phase = PhaseRevealed
	s, _, err := voteSubmitted(in, payload(t, events.VoteSubmittedPayload{ParticipantID: 2}))
	if err != nil {
		t.Fatalf("voteSubmitted: %v", err)
	}
	if p, _ := s.Participant(2); p.HasVoted {
		t.Fatal("late vote applied after reveal")
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	if _, _, err := participantJoined(votingState(), events.Envelope{Payload: json.RawMessage(`{"participant":`)}); err == nil {
		t.Fatal("expected decode error")
	}
	if _, _, err := voteSubmitted(votingState(), events.Envelope{}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
