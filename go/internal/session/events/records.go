package events

// Session status values used by the remote service.
const (
	StatusWaiting  = "waiting"
	StatusVoting   = "voting"
	StatusRevealed = "revealed"
)

// Profile is the display identity a user joins with.
type Profile struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

// ParticipantRecord is a roster entry as the remote service reports it.
type ParticipantRecord struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Emoji    string `json:"emoji"`
	IsHost   bool   `json:"is_host,omitempty"`
	HasVoted *bool  `json:"has_voted,omitempty"`
}

// RevealedVote pairs a participant with its encoded card value.
type RevealedVote struct {
	ParticipantID int64  `json:"participant_id"`
	CardValue     string `json:"card_value"`
}

// SessionInfo is the session header returned by create and join.
type SessionInfo struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	Status       string `json:"status"`
	CurrentRound int    `json:"current_round"`
	TimerSeconds int    `json:"timer_seconds,omitempty"`
}

// JoinResult is the response of both create and join. Participants is empty
// for a freshly created session.
type JoinResult struct {
	Session      SessionInfo         `json:"session"`
	Participant  ParticipantRecord   `json:"participant"`
	Participants []ParticipantRecord `json:"participants,omitempty"`
	Token        string              `json:"token,omitempty"`
}

// Snapshot is the full authoritative state of a session.
type Snapshot struct {
	Code         string              `json:"code"`
	Status       string              `json:"status"`
	CurrentRound int                 `json:"current_round"`
	TimerSeconds int                 `json:"timer_seconds,omitempty"`
	Participants []ParticipantRecord `json:"participants"`
	Votes        []RevealedVote      `json:"votes,omitempty"`
}

// VoteRequest is the body of a vote call.
type VoteRequest struct {
	ParticipantID int64  `json:"participant_id"`
	CardValue     string `json:"card_value"`
}
