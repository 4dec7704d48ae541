package state

import (
	"context"
	"time"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// Phase is the lifecycle stage of the local session view.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseWaiting  Phase = "waiting"
	PhaseVoting   Phase = "voting"
	PhaseRevealed Phase = "revealed"
)

func phaseFromStatus(status string) Phase {
	switch status {
	case events.StatusVoting:
		return PhaseVoting
	case events.StatusRevealed:
		return PhaseRevealed
	default:
		return PhaseWaiting
	}
}

// Default display identity for users that never set a profile.
const (
	DefaultName  = "Anonymous"
	DefaultEmoji = "👤"
)

// DefaultProfile returns the profile used when none was saved.
func DefaultProfile() events.Profile {
	return events.Profile{Name: DefaultName, Emoji: DefaultEmoji}
}

// Participant is one roster entry. Vote stays nil until cards are revealed,
// except for the local user's own optimistic vote.
type Participant struct {
	ID            int64
	Name          string
	Emoji         string
	HasVoted      bool
	Vote          *vote.Value
	IsFacilitator bool
	IsUser        bool
}

// User is the local identity inside the session.
type User struct {
	ID            int64
	Name          string
	Emoji         string
	IsFacilitator bool
}

// State is the client's view of a session.
type State struct {
	Code         string
	Phase        Phase
	Round        int
	TimerSeconds int
	TimerCeiling int
	Participants []Participant
	User         User
	UserCard     *vote.Value
}

// Pointer is the locally persisted reference used to rejoin after a restart.
type Pointer struct {
	Code          string
	ParticipantID int64
	IsFacilitator bool
	SavedAt       time.Time
}

// Service is the remote session service as the machine sees it.
type Service interface {
	CreateSession(ctx context.Context, profile events.Profile) (*events.JoinResult, error)
	JoinSession(ctx context.Context, code string, profile events.Profile) (*events.JoinResult, error)
	GetSession(ctx context.Context, code string) (*events.Snapshot, error)
	LeaveSession(ctx context.Context, code string, participantID int64) error
	StartVoting(ctx context.Context, code string) error
	SubmitVote(ctx context.Context, code string, participantID int64, value vote.Value) error
	RevealVotes(ctx context.Context, code string) error
	NextRound(ctx context.Context, code string) error
	RemoveParticipant(ctx context.Context, code string, participantID int64) error
}

// EventSink receives inbound session events.
type EventSink interface {
	HandleEvent(ctx context.Context, env events.Envelope)
}

// Backend combines the remote calls with the session's event channel.
type Backend interface {
	Service
	Subscribe(ctx context.Context, code string, sink EventSink) error
	Unsubscribe()
}

// PointerStore persists the rejoin pointer.
type PointerStore interface {
	SavePointer(ctx context.Context, p Pointer) error
	ClearPointer(ctx context.Context) error
}

// SessionObserver is told when the machine enters or leaves a session.
type SessionObserver interface {
	SessionStarted(code string)
	SessionEnded(code string)
}

// NoticeKind classifies a user-facing notification.
type NoticeKind string

const (
	NoticeSessionEnded NoticeKind = "session_ended"
	NoticeRemoved      NoticeKind = "removed"
)

// Notice is raised when the session ends for a reason outside the user's control.
type Notice struct {
	Kind    NoticeKind
	Code    string
	Message string
}

func initialState() State {
	return State{
		Phase:        PhaseIdle,
		Round:        1,
		TimerSeconds: defaultCeiling,
		TimerCeiling: defaultCeiling,
		User:         User{Name: DefaultName, Emoji: DefaultEmoji},
	}
}

// InSession reports whether the state holds an active session.
func (s State) InSession() bool {
	return s.Phase != PhaseIdle && s.Code != ""
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	if s.Participants != nil {
		out.Participants = make([]Participant, len(s.Participants))
		for i, p := range s.Participants {
			if p.Vote != nil {
				v := *p.Vote
				p.Vote = &v
			}
			out.Participants[i] = p
		}
	}
	if s.UserCard != nil {
		v := *s.UserCard
		out.UserCard = &v
	}
	return out
}

func (s State) indexOf(id int64) int {
	for i, p := range s.Participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Participant returns the roster entry for id.
func (s State) Participant(id int64) (Participant, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Participants[i], true
	}
	return Participant{}, false
}

// AllVoted reports whether every participant has voted. An empty roster
// never counts as all voted.
func (s State) AllVoted() bool {
	if len(s.Participants) == 0 {
		return false
	}
	for _, p := range s.Participants {
		if !p.HasVoted {
			return false
		}
	}
	return true
}

// VotedCount returns the number of participants who have voted.
func (s State) VotedCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.HasVoted {
			n++
		}
	}
	return n
}

// TotalCount returns the roster size.
func (s State) TotalCount() int { return len(s.Participants) }

func (s *State) resetVotes() {
	for i := range s.Participants {
		s.Participants[i].HasVoted = false
		s.Participants[i].Vote = nil
	}
	s.UserCard = nil
}

func (s State) participantFromRecord(r events.ParticipantRecord) Participant {
	return Participant{
		ID:            r.ID,
		Name:          r.Name,
		Emoji:         r.Emoji,
		IsFacilitator: r.IsHost,
		IsUser:        r.ID == s.User.ID,
	}
}
