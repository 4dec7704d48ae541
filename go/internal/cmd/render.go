package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cardStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Border(lipgloss.RoundedBorder())
	youStyle   = lipgloss.NewStyle().Bold(true)
)

const barWidth = 20

// timerBar draws the countdown as a bar in its colour band.
func timerBar(s state.State) string {
	filled := int(s.TimerProgress() / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(string(s.TimerBand()))).
		Render(fmt.Sprintf("%s %2ds", bar, s.TimerSeconds))
}

func renderState(w io.Writer, s state.State) {
	if !s.InSession() {
		_, _ = fmt.Fprintln(w, dimStyle.Render("not in a session"))
		return
	}

	header := fmt.Sprintf("Session %s  round %d  %s", s.Code, s.Round, s.Phase)
	_, _ = fmt.Fprintf(w, "\n%s\n", titleStyle.Render(header))
	if s.Phase == state.PhaseVoting {
		_, _ = fmt.Fprintf(w, "%s  %d/%d voted\n", timerBar(s), s.VotedCount(), s.TotalCount())
	}

	for _, p := range s.Participants {
		mark := "  "
		switch {
		case p.Vote != nil && s.Phase == state.PhaseRevealed:
			mark = p.Vote.Label()
		case p.HasVoted:
			mark = "✓"
		}
		name := fmt.Sprintf("%s %s", p.Emoji, p.Name)
		if p.IsUser {
			name = youStyle.Render(name + " (you)")
		}
		if p.IsFacilitator {
			name += dimStyle.Render(" ★")
		}
		_, _ = fmt.Fprintf(w, "  %-4s %s %s\n", mark, name, dimStyle.Render(fmt.Sprintf("#%d", p.ID)))
	}

	if s.UserCard != nil && s.Phase == state.PhaseVoting {
		_, _ = fmt.Fprintf(w, "your card:\n%s\n", cardStyle.Render(s.UserCard.Label()))
	}
	if r := s.Results(); r != nil {
		renderResults(w, r)
	}
}

func renderResults(w io.Writer, r *state.Results) {
	avg := "-"
	if r.Average != nil {
		avg = r.AverageText
	}
	mode := "-"
	if r.Mode != nil {
		mode = r.Mode.Label()
	}
	_, _ = fmt.Fprintf(w, "average %s  most voted %s  %s  (%d/%d voted)\n",
		titleStyle.Render(avg), mode, r.Consensus, r.Participation, r.Total)
}

func renderCards(w io.Writer) {
	labels := make([]string, 0, len(vote.Catalog()))
	for _, v := range vote.Catalog() {
		labels = append(labels, fmt.Sprintf("%s (%s)", v.Label(), v.String()))
	}
	_, _ = fmt.Fprintln(w, "cards: "+strings.Join(labels, "  "))
}

// summary changes only on changes worth redrawing, not on every timer tick.
func summary(s state.State) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d|%v", s.Code, s.Phase, s.Round, s.VotedCount(), s.TotalCount(), s.UserCard != nil)
}
