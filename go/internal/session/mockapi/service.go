// Package mockapi is an in-memory session service for offline demos and
// end-to-end tests. It publishes the same events as the real service and
// can fill a session with simulated participants that vote on their own.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/timer"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrWrongPhase          = errors.New("not allowed in the current phase")
	ErrAlreadyVoted        = errors.New("participant already voted this round")
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Options configure a Service. Zero values pick sensible defaults.
type Options struct {
	Clock        clockwork.Clock
	Bots         []Bot
	TimerSeconds int
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

type member struct {
	record  events.ParticipantRecord
	token   string
	bot     bool
	persona Bot
}

type session struct {
	code    string
	status  string
	round   int
	timer   int
	hostID  int64
	members []*member
	votes   map[int64]vote.Value
	joins   []clockwork.Timer
	pending []clockwork.Timer
}

// Service implements state.Service entirely in memory.
type Service struct {
	publisher    channel.Publisher
	clock        clockwork.Clock
	bots         []Bot
	timerSeconds int

	mu       sync.Mutex
	rng      *rand.Rand
	sessions map[string]*session
	nextID   int64
}

var _ state.Service = (*Service)(nil)

// New creates a Service that announces changes through publisher, which may be nil.
func New(publisher channel.Publisher, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TimerSeconds <= 0 {
		opts.TimerSeconds = timer.DefaultCeiling
	}
	seed := opts.Seed
	if seed == 0 {
		seed = opts.Clock.Now().UnixNano()
	}
	return &Service{
		publisher:    publisher,
		clock:        opts.Clock,
		bots:         opts.Bots,
		timerSeconds: opts.TimerSeconds,
		rng:          rand.New(rand.NewSource(seed)),
		sessions:     make(map[string]*session),
	}
}

func (s *Service) CreateSession(_ context.Context, profile events.Profile) (*events.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &session{
		code:   s.newCodeLocked(),
		status: events.StatusWaiting,
		round:  1,
		timer:  s.timerSeconds,
		votes:  make(map[int64]vote.Value),
	}
	host := s.addMemberLocked(sess, profile, true)
	sess.hostID = host.record.ID
	s.sessions[sess.code] = sess

	for _, b := range s.bots {
		s.scheduleJoinLocked(sess.code, b)
	}

	log.Info().Str("session_code", sess.code).Int("bots", len(s.bots)).Msg("mock session created")
	return &events.JoinResult{
		Session:     sess.info(),
		Participant: host.record,
		Token:       host.token,
	}, nil
}

func (s *Service) JoinSession(_ context.Context, code string, profile events.Profile) (*events.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return nil, err
	}
	m := s.addMemberLocked(sess, profile, false)
	s.publishLocked(sess.code, events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{Participant: m.record})

	return &events.JoinResult{
		Session:      sess.info(),
		Participant:  m.record,
		Participants: sess.records(),
		Token:        m.token,
	}, nil
}

func (s *Service) GetSession(_ context.Context, code string) (*events.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return nil, err
	}
	return sess.snapshot(), nil
}

// LeaveSession removes a participant. The host leaving ends the session.
func (s *Service) LeaveSession(_ context.Context, code string, participantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	if participantID == sess.hostID {
		s.endLocked(sess, "facilitator left")
		return nil
	}
	if !sess.remove(participantID) {
		return ErrParticipantNotFound
	}
	s.publishLocked(sess.code, events.EventTypeParticipantLeft, events.ParticipantLeftPayload{ParticipantID: participantID})
	return nil
}

func (s *Service) StartVoting(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	if sess.status == events.StatusVoting {
		return fmt.Errorf("start voting: %w", ErrWrongPhase)
	}
	s.openRoundLocked(sess, events.EventTypeVotingStarted)
	return nil
}

func (s *Service) SubmitVote(_ context.Context, code string, participantID int64, value vote.Value) error {
	if !vote.InCatalog(value) {
		return fmt.Errorf("submit vote %q: %w", value.String(), vote.ErrInvalidValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	return s.voteLocked(sess, participantID, value)
}

func (s *Service) RevealVotes(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	if sess.status != events.StatusVoting {
		return fmt.Errorf("reveal: %w", ErrWrongPhase)
	}
	sess.cancelPending()
	sess.status = events.StatusRevealed
	s.publishLocked(sess.code, events.EventTypeCardsRevealed, events.CardsRevealedPayload{
		Round: sess.round,
		Votes: sess.revealed(),
	})
	return nil
}

func (s *Service) NextRound(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	if sess.status != events.StatusRevealed {
		return fmt.Errorf("next round: %w", ErrWrongPhase)
	}
	sess.round++
	s.openRoundLocked(sess, events.EventTypeNextRoundStarted)
	return nil
}

func (s *Service) RemoveParticipant(_ context.Context, code string, participantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	if participantID == sess.hostID {
		return fmt.Errorf("remove facilitator: %w", ErrWrongPhase)
	}
	if !sess.remove(participantID) {
		return ErrParticipantNotFound
	}
	s.publishLocked(sess.code, events.EventTypeParticipantRemoved, events.ParticipantLeftPayload{ParticipantID: participantID})
	return nil
}

// EndSession closes a session as if the backend expired it.
func (s *Service) EndSession(code, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(code)
	if err != nil {
		return err
	}
	s.endLocked(sess, reason)
	return nil
}

// Sessions returns the number of live sessions.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) sessionLocked(code string) (*session, error) {
	sess, ok := s.sessions[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, code)
	}
	return sess, nil
}

func (s *Service) newCodeLocked() string {
	for {
		b := make([]byte, state.CodeLength)
		for i := range b {
			b[i] = codeAlphabet[s.rng.Intn(len(codeAlphabet))]
		}
		if _, taken := s.sessions[string(b)]; !taken {
			return string(b)
		}
	}
}

func (s *Service) addMemberLocked(sess *session, profile events.Profile, host bool) *member {
	if profile.Name == "" {
		profile.Name = state.DefaultName
	}
	if profile.Emoji == "" {
		profile.Emoji = state.DefaultEmoji
	}
	s.nextID++
	m := &member{
		record: events.ParticipantRecord{ID: s.nextID, Name: profile.Name, Emoji: profile.Emoji, IsHost: host},
		token:  uuid.NewString(),
	}
	sess.members = append(sess.members, m)
	return m
}

func (s *Service) openRoundLocked(sess *session, eventType events.EventType) {
	sess.cancelPending()
	sess.status = events.StatusVoting
	sess.votes = make(map[int64]vote.Value)
	s.publishLocked(sess.code, eventType, events.VotingStartedPayload{Round: sess.round, TimerSeconds: sess.timer})

	for _, m := range sess.members {
		if m.bot {
			s.scheduleVoteLocked(sess, m)
		}
	}
}

func (s *Service) voteLocked(sess *session, participantID int64, value vote.Value) error {
	if sess.status != events.StatusVoting {
		return fmt.Errorf("vote: %w", ErrWrongPhase)
	}
	if sess.member(participantID) == nil {
		return ErrParticipantNotFound
	}
	if _, voted := sess.votes[participantID]; voted {
		return ErrAlreadyVoted
	}
	sess.votes[participantID] = value
	s.publishLocked(sess.code, events.EventTypeVoteSubmitted, events.VoteSubmittedPayload{ParticipantID: participantID})
	return nil
}

func (s *Service) endLocked(sess *session, reason string) {
	sess.cancelPending()
	for _, t := range sess.joins {
		t.Stop()
	}
	sess.joins = nil
	delete(s.sessions, sess.code)
	s.publishLocked(sess.code, events.EventTypeSessionEnded, events.SessionEndedPayload{Reason: reason})
	log.Info().Str("session_code", sess.code).Str("reason", reason).Msg("mock session ended")
}

func (s *Service) scheduleJoinLocked(code string, b Bot) {
	sess := s.sessions[code]
	t := s.clock.AfterFunc(b.JoinAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, ok := s.sessions[code]
		if !ok {
			return
		}
		m := s.addMemberLocked(sess, events.Profile{Name: b.Name, Emoji: b.Emoji}, false)
		m.bot = true
		m.persona = b
		s.publishLocked(code, events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{Participant: m.record})
		if sess.status == events.StatusVoting {
			s.scheduleVoteLocked(sess, m)
		}
	})
	sess.joins = append(sess.joins, t)
}

func (s *Service) scheduleVoteLocked(sess *session, m *member) {
	code, round, id := sess.code, sess.round, m.record.ID
	delay := m.persona.delay(s.rng)
	t := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, ok := s.sessions[code]
		if !ok || sess.round != round || sess.status != events.StatusVoting {
			return
		}
		if _, voted := sess.votes[id]; voted {
			return
		}
		card := RandomCard(s.rng)
		if err := s.voteLocked(sess, id, card); err != nil {
			log.Debug().Err(err).Int64("participant_id", id).Msg("bot vote dropped")
		}
	})
	sess.pending = append(sess.pending, t)
}

// publishLocked runs under s.mu so events leave in the order the state
// changed. Every Publisher implementation is non-blocking.
func (s *Service) publishLocked(code string, eventType events.EventType, payload any) {
	if s.publisher == nil {
		return
	}
	env, err := events.NewEnvelope(code, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	env.Timestamp = s.clock.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, env); err != nil {
		log.Error().Err(err).Str("session_code", code).Str("event_type", string(eventType)).Msg("failed to publish event")
	}
}

func (sess *session) info() events.SessionInfo {
	return events.SessionInfo{
		Code:         sess.code,
		Status:       sess.status,
		CurrentRound: sess.round,
		TimerSeconds: sess.timer,
	}
}

func (sess *session) member(id int64) *member {
	for _, m := range sess.members {
		if m.record.ID == id {
			return m
		}
	}
	return nil
}

func (sess *session) remove(id int64) bool {
	for i, m := range sess.members {
		if m.record.ID == id {
			sess.members = append(sess.members[:i], sess.members[i+1:]...)
			delete(sess.votes, id)
			return true
		}
	}
	return false
}

func (sess *session) records() []events.ParticipantRecord {
	out := make([]events.ParticipantRecord, 0, len(sess.members))
	for _, m := range sess.members {
		rec := m.record
		if sess.status == events.StatusVoting {
			_, voted := sess.votes[rec.ID]
			rec.HasVoted = &voted
		}
		out = append(out, rec)
	}
	return out
}

func (sess *session) revealed() []events.RevealedVote {
	out := make([]events.RevealedVote, 0, len(sess.votes))
	for _, m := range sess.members {
		if v, ok := sess.votes[m.record.ID]; ok {
			out = append(out, events.RevealedVote{ParticipantID: m.record.ID, CardValue: v.String()})
		}
	}
	return out
}

func (sess *session) snapshot() *events.Snapshot {
	snap := &events.Snapshot{
		Code:         sess.code,
		Status:       sess.status,
		CurrentRound: sess.round,
		TimerSeconds: sess.timer,
		Participants: sess.records(),
	}
	if sess.status == events.StatusRevealed {
		snap.Votes = sess.revealed()
	}
	return snap
}

func (sess *session) cancelPending() {
	for _, t := range sess.pending {
		t.Stop()
	}
	sess.pending = nil
}
