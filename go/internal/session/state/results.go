package state

import (
	"github.com/mcdev12/estimate/go/internal/session/timer"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// Results summarises a revealed round.
type Results struct {
	// Average is nil when no numeric vote was cast.
	Average     *float64
	AverageText string
	Consensus   vote.Consensus
	// Mode is nil when nobody voted.
	Mode          *vote.Value
	Participation int
	Total         int
}

// Results returns the aggregate of the revealed votes, or nil outside the
// revealed phase.
func (s State) Results() *Results {
	if s.Phase != PhaseRevealed {
		return nil
	}

	var values []vote.Value
	for _, p := range s.Participants {
		if p.Vote != nil {
			values = append(values, *p.Vote)
		}
	}

	r := &Results{
		Consensus:     vote.Classify(values),
		Participation: len(values),
		Total:         len(s.Participants),
	}
	if avg, ok := vote.Average(values); ok {
		r.Average = &avg
		r.AverageText = vote.FormatAverage(avg)
	}
	if m, ok := vote.Mode(values); ok {
		r.Mode = &m
	}
	return r
}

// TimerProgress is the remaining time as a percentage of the ceiling.
func (s State) TimerProgress() float64 {
	return timer.Progress(s.TimerSeconds, s.TimerCeiling)
}

// TimerBand is the colour band for the remaining time.
func (s State) TimerBand() timer.Band {
	return timer.BandFor(s.TimerSeconds)
}
