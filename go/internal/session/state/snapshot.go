package state

import (
	"github.com/mcdev12/estimate/go/internal/session/events"
)

// mergeSnapshot folds an authoritative snapshot into s. The roster is
// additive: entries missing from the snapshot are kept, known entries get
// their display fields refreshed. Phase and round always follow the
// snapshot; votes are read only when the snapshot is revealed.
//
// A snapshot that no longer lists the local user yields effectRemoved.
func mergeSnapshot(s State, snap *events.Snapshot) (State, effect) {
	if !snapshotHas(snap, s.User.ID) {
		return s, effectRemoved
	}

	for _, r := range snap.Participants {
		i := s.indexOf(r.ID)
		if i < 0 {
			s.Participants = append(s.Participants, s.participantFromRecord(r))
			continue
		}
		p := &s.Participants[i]
		p.Name = r.Name
		p.Emoji = r.Emoji
		p.IsFacilitator = p.IsFacilitator || r.IsHost
	}
	for i := range s.Participants {
		if s.Participants[i].ID == s.User.ID {
			s.Participants[i].IsUser = true
			s.Participants[i].IsFacilitator = s.Participants[i].IsFacilitator || s.User.IsFacilitator
			s.User.IsFacilitator = s.Participants[i].IsFacilitator
			s.User.Name = s.Participants[i].Name
			s.User.Emoji = s.Participants[i].Emoji
		}
	}

	if snap.TimerSeconds > 0 {
		s.TimerCeiling = snap.TimerSeconds
	}
	if s.TimerCeiling <= 0 {
		s.TimerCeiling = defaultCeiling
	}

	prevPhase, prevRound := s.Phase, s.Round
	next := phaseFromStatus(snap.Status)
	round := snap.CurrentRound
	if round <= 0 {
		round = prevRound
	}
	s.Phase = next
	s.Round = round

	eff := effectNone
	switch next {
	case PhaseVoting:
		if prevPhase != PhaseVoting || prevRound != round {
			s.resetVotes()
			s.TimerSeconds = s.TimerCeiling
			eff |= effectStartTimer
		}
		for _, r := range snap.Participants {
			if r.HasVoted != nil && *r.HasVoted {
				if i := s.indexOf(r.ID); i >= 0 {
					s.Participants[i].HasVoted = true
				}
			}
		}
		eff |= effectCheckReveal
	case PhaseRevealed:
		s.applyRevealedVotes(snap.Votes)
		if prevPhase == PhaseVoting {
			eff |= effectStopTimer
		}
	default:
		if prevPhase == PhaseVoting {
			eff |= effectStopTimer
		}
	}
	return s, eff
}

func snapshotHas(snap *events.Snapshot, id int64) bool {
	for _, r := range snap.Participants {
		if r.ID == id {
			return true
		}
	}
	return false
}
