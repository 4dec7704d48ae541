package state

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// effect is a side effect the machine applies after a transition commits.
type effect uint8

const (
	effectStartTimer effect = 1 << iota
	effectStopTimer
	// effectRemoved tears the session down because the local user was removed.
	effectRemoved
	// effectEnded tears the session down because the facilitator ended it.
	effectEnded
	// effectCheckReveal asks the facilitator client to reveal once everyone voted.
	effectCheckReveal

	effectNone effect = 0
)

func (e effect) has(f effect) bool { return e&f != 0 }

// transition computes the next state for one inbound event. It receives a
// private copy of the state and must not touch the machine.
type transition func(s State, env events.Envelope) (State, effect, error)

func newHandlerTable() map[events.EventType]transition {
	return map[events.EventType]transition{
		events.EventTypeParticipantJoined:  participantJoined,
		events.EventTypeParticipantLeft:    participantLeft,
		events.EventTypeParticipantRemoved: participantLeft,
		events.EventTypeVotingStarted:      votingStarted(false),
		events.EventTypeNextRoundStarted:   votingStarted(true),
		events.EventTypeVoteSubmitted:      voteSubmitted,
		events.EventTypeCardsRevealed:      cardsRevealed,
		events.EventTypeSessionEnded:       sessionEnded,
	}
}

func participantJoined(s State, env events.Envelope) (State, effect, error) {
	var p events.ParticipantJoinedPayload
	if err := env.Decode(&p); err != nil {
		return s, effectNone, err
	}
	if s.indexOf(p.Participant.ID) >= 0 {
		return s, effectNone, nil
	}
	s.Participants = append(s.Participants, s.participantFromRecord(p.Participant))
	return s, effectNone, nil
}

func participantLeft(s State, env events.Envelope) (State, effect, error) {
	var p events.ParticipantLeftPayload
	if err := env.Decode(&p); err != nil {
		return s, effectNone, err
	}
	if p.ParticipantID == s.User.ID {
		return s, effectRemoved, nil
	}
	i := s.indexOf(p.ParticipantID)
	if i < 0 {
		return s, effectNone, nil
	}
	s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
	// the remaining roster may now be fully voted
	return s, effectCheckReveal, nil
}

func votingStarted(nextRound bool) transition {
	return func(s State, env events.Envelope) (State, effect, error) {
		var p events.VotingStartedPayload
		if len(env.Payload) > 0 {
			if err := env.Decode(&p); err != nil {
				return s, effectNone, err
			}
		}

		round := p.Round
		if round <= 0 {
			round = s.Round
			if nextRound && s.Phase != PhaseVoting {
				round++
			}
		}
		ceiling := s.TimerCeiling
		if p.TimerSeconds > 0 {
			ceiling = p.TimerSeconds
		}
		if ceiling <= 0 {
			ceiling = defaultCeiling
		}

		// our own optimistic transition already got here
		if s.Phase == PhaseVoting && s.Round == round {
			s.TimerCeiling = ceiling
			return s, effectNone, nil
		}

		s.Phase = PhaseVoting
		s.Round = round
		s.resetVotes()
		s.TimerCeiling = ceiling
		s.TimerSeconds = ceiling
		return s, effectStartTimer, nil
	}
}

func voteSubmitted(s State, env events.Envelope) (State, effect, error) {
	var p events.VoteSubmittedPayload
	if err := env.Decode(&p); err != nil {
		return s, effectNone, err
	}
	if s.Phase == PhaseRevealed {
		return s, effectNone, nil
	}
	i := s.indexOf(p.ParticipantID)
	if i < 0 {
		log.Debug().
			Str("session_code", s.Code).
			Int64("participant_id", p.ParticipantID).
			Msg("vote from participant not in roster")
		return s, effectNone, nil
	}
	s.Participants[i].HasVoted = true
	return s, effectCheckReveal, nil
}

func cardsRevealed(s State, env events.Envelope) (State, effect, error) {
	var p events.CardsRevealedPayload
	if err := env.Decode(&p); err != nil {
		return s, effectNone, err
	}
	s.Phase = PhaseRevealed
	if p.Round > 0 {
		s.Round = p.Round
	}
	s.applyRevealedVotes(p.Votes)
	return s, effectStopTimer, nil
}

func sessionEnded(s State, _ events.Envelope) (State, effect, error) {
	return s, effectEnded, nil
}

// applyRevealedVotes assigns every participant's vote from the list. Anyone
// missing from it did not vote this round.
func (s *State) applyRevealedVotes(votes []events.RevealedVote) {
	byID := make(map[int64]vote.Value, len(votes))
	for _, rv := range votes {
		v, err := vote.Parse(rv.CardValue)
		if err != nil {
			log.Warn().
				Err(err).
				Str("session_code", s.Code).
				Int64("participant_id", rv.ParticipantID).
				Msg("skipping undecodable vote")
			continue
		}
		byID[rv.ParticipantID] = v
	}

	s.UserCard = nil
	for i := range s.Participants {
		p := &s.Participants[i]
		v, ok := byID[p.ID]
		if !ok {
			p.HasVoted = false
			p.Vote = nil
			continue
		}
		p.HasVoted = true
		p.Vote = &v
		if p.IsUser {
			uc := v
			s.UserCard = &uc
		}
	}
}
