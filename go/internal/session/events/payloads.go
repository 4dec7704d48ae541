package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names an event published on a session channel.
type EventType string

const (
	EventTypeParticipantJoined  EventType = "ParticipantJoined"
	EventTypeParticipantLeft    EventType = "ParticipantLeft"
	EventTypeParticipantRemoved EventType = "ParticipantRemoved"
	EventTypeVotingStarted      EventType = "VotingStarted"
	EventTypeVoteSubmitted      EventType = "VoteSubmitted"
	EventTypeCardsRevealed      EventType = "CardsRevealed"
	EventTypeNextRoundStarted   EventType = "NextRoundStarted"
	EventTypeSessionEnded       EventType = "SessionEnded"
)

// Known reports whether t is one of the events a client reacts to.
func Known(t EventType) bool {
	switch t {
	case EventTypeParticipantJoined, EventTypeParticipantLeft, EventTypeParticipantRemoved,
		EventTypeVotingStarted, EventTypeVoteSubmitted, EventTypeCardsRevealed,
		EventTypeNextRoundStarted, EventTypeSessionEnded:
		return true
	}
	return false
}

// Envelope is the message carried on every session channel.
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   EventType       `json:"eventType"`
	SessionCode string          `json:"sessionCode"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope for the given session.
func NewEnvelope(code string, eventType EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		SessionCode: code,
		Timestamp:   time.Now().UTC(),
		Payload:     data,
	}, nil
}

// ParticipantJoinedPayload is the payload for a ParticipantJoined event
type ParticipantJoinedPayload struct {
	Participant ParticipantRecord `json:"participant"`
}

// ParticipantLeftPayload is shared by ParticipantLeft and ParticipantRemoved
type ParticipantLeftPayload struct {
	ParticipantID int64 `json:"participant_id"`
}

// VotingStartedPayload is shared by VotingStarted and NextRoundStarted
type VotingStartedPayload struct {
	Round        int `json:"round"`
	TimerSeconds int `json:"timer_seconds,omitempty"`
}

// VoteSubmittedPayload announces that a participant voted; the value stays hidden
type VoteSubmittedPayload struct {
	ParticipantID int64 `json:"participant_id"`
}

// CardsRevealedPayload carries every cast vote of the round
type CardsRevealedPayload struct {
	Round int            `json:"round,omitempty"`
	Votes []RevealedVote `json:"votes"`
}

// SessionEndedPayload is the payload for a SessionEnded event
type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.EventType)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
	}
	return nil
}
