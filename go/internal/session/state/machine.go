package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/timer"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

const (
	defaultCeiling     = timer.DefaultCeiling
	defaultCallTimeout = 10 * time.Second
)

// Options configures a Machine. The zero value is usable.
type Options struct {
	Clock clockwork.Clock
	Store PointerStore
	// CallTimeout bounds remote calls the machine issues on its own, such
	// as the reveal after the countdown expires.
	CallTimeout time.Duration
	// OnNotice is called when the session ends for the user without a Leave.
	OnNotice func(Notice)
	// OnChange is called with a copy of the state after every change.
	OnChange func(State)
}

// Machine owns the session state and reconciles local intent with remote
// events. All methods are safe for concurrent use; remote calls never run
// under the state lock.
type Machine struct {
	backend     Backend
	store       PointerStore
	countdown   *timer.Countdown
	handlers    map[events.EventType]transition
	callTimeout time.Duration
	onNotice    func(Notice)
	onChange    func(State)

	mu        sync.Mutex
	state     State
	timerGen  uint64
	observers []SessionObserver
}

// NewMachine creates an idle machine talking to backend.
func NewMachine(backend Backend, opts Options) *Machine {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Machine{
		backend:     backend,
		store:       opts.Store,
		countdown:   timer.NewCountdown(opts.Clock),
		handlers:    newHandlerTable(),
		callTimeout: opts.CallTimeout,
		onNotice:    opts.OnNotice,
		onChange:    opts.OnChange,
		state:       initialState(),
	}
}

// AddObserver registers o for session start and end notifications.
func (m *Machine) AddObserver(o SessionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Results returns the revealed round summary, or nil outside the revealed phase.
func (m *Machine) Results() *Results {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Results()
}

func (m *Machine) AllVoted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AllVoted()
}

func (m *Machine) VotedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.VotedCount()
}

func (m *Machine) TotalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TotalCount()
}

func (m *Machine) TimerProgress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TimerProgress()
}

func (m *Machine) TimerBand() timer.Band {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TimerBand()
}

// Create starts a new session with the local user as facilitator.
func (m *Machine) Create(ctx context.Context, profile events.Profile) error {
	if m.inSession() {
		return ErrAlreadyInSession
	}

	res, err := m.backend.CreateSession(ctx, profile)
	if err != nil {
		return AsRemote("create", err)
	}
	code := NormalizeCode(res.Session.Code)

	user := User{
		ID:            res.Participant.ID,
		Name:          res.Participant.Name,
		Emoji:         res.Participant.Emoji,
		IsFacilitator: true,
	}
	s := initialState()
	s.Code = code
	s.Phase = PhaseWaiting
	s.User = user
	if res.Session.TimerSeconds > 0 {
		s.TimerCeiling = res.Session.TimerSeconds
		s.TimerSeconds = res.Session.TimerSeconds
	}
	s.Participants = []Participant{{
		ID:            user.ID,
		Name:          user.Name,
		Emoji:         user.Emoji,
		IsFacilitator: true,
		IsUser:        true,
	}}

	if err := m.enter(ctx, s, effectNone); err != nil {
		return err
	}
	log.Info().Str("session_code", code).Int64("participant_id", user.ID).Msg("session created")
	return nil
}

// Join enters an existing session as a regular participant.
func (m *Machine) Join(ctx context.Context, code string, profile events.Profile) error {
	normalized, err := ValidateCode(code)
	if err != nil {
		return err
	}
	if m.inSession() {
		return ErrAlreadyInSession
	}

	res, err := m.backend.JoinSession(ctx, normalized, profile)
	if err != nil {
		return AsRemote("join", err)
	}
	if res.Session.Code != "" {
		normalized = NormalizeCode(res.Session.Code)
	}

	s := initialState()
	s.Code = normalized
	s.User = User{
		ID:    res.Participant.ID,
		Name:  res.Participant.Name,
		Emoji: res.Participant.Emoji,
	}
	s.Phase = phaseFromStatus(res.Session.Status)
	if res.Session.CurrentRound > 0 {
		s.Round = res.Session.CurrentRound
	}
	if res.Session.TimerSeconds > 0 {
		s.TimerCeiling = res.Session.TimerSeconds
		s.TimerSeconds = res.Session.TimerSeconds
	}

	roster := res.Participants
	if !containsRecord(roster, res.Participant.ID) {
		roster = append(roster, res.Participant)
	}
	for _, r := range roster {
		p := s.participantFromRecord(r)
		if p.IsUser {
			p.IsFacilitator = false
		}
		if s.Phase == PhaseVoting && r.HasVoted != nil {
			p.HasVoted = *r.HasVoted
		}
		s.Participants = append(s.Participants, p)
	}

	eff := effectNone
	if s.Phase == PhaseVoting {
		eff = effectStartTimer
	}
	if err := m.enter(ctx, s, eff); err != nil {
		return err
	}
	log.Info().Str("session_code", normalized).Int64("participant_id", s.User.ID).Msg("joined session")

	// the join response carries no votes
	if s.Phase == PhaseRevealed {
		if err := m.Refresh(ctx); err != nil {
			log.Warn().Err(err).Str("session_code", normalized).Msg("could not fetch revealed votes after join")
		}
	}
	return nil
}

// Rejoin restores a session from a saved pointer. If the session no longer
// lists the participant a *StaleSessionError is returned and nothing else
// happens; the caller decides whether to clear the pointer.
func (m *Machine) Rejoin(ctx context.Context, ptr Pointer) error {
	code, err := ValidateCode(ptr.Code)
	if err != nil {
		return err
	}
	if m.inSession() {
		return ErrAlreadyInSession
	}

	snap, err := m.backend.GetSession(ctx, code)
	if err != nil {
		return AsRemote("get session", err)
	}

	base := initialState()
	base.Code = code
	base.Phase = PhaseWaiting
	base.User = User{ID: ptr.ParticipantID, IsFacilitator: ptr.IsFacilitator}
	if snap.CurrentRound > 0 {
		base.Round = snap.CurrentRound
	}

	s, eff := mergeSnapshot(base, snap)
	if eff.has(effectRemoved) {
		return &StaleSessionError{Code: code, ParticipantID: ptr.ParticipantID}
	}
	if err := m.enter(ctx, s, eff); err != nil {
		return err
	}
	log.Info().Str("session_code", code).Int64("participant_id", ptr.ParticipantID).Str("phase", string(s.Phase)).Msg("rejoined session")
	return nil
}

// enter installs s as the active session, then persists the pointer,
// subscribes to the session channel and notifies observers.
func (m *Machine) enter(ctx context.Context, s State, eff effect) error {
	m.mu.Lock()
	if m.state.InSession() {
		m.mu.Unlock()
		return ErrAlreadyInSession
	}
	m.state = s
	if eff.has(effectStartTimer) {
		m.startCountdownLocked()
	}
	observers := append([]SessionObserver(nil), m.observers...)
	m.mu.Unlock()

	if m.store != nil {
		ptr := Pointer{
			Code:          s.Code,
			ParticipantID: s.User.ID,
			IsFacilitator: s.User.IsFacilitator,
			SavedAt:       time.Now().UTC(),
		}
		if err := m.store.SavePointer(ctx, ptr); err != nil {
			log.Warn().Err(err).Str("session_code", s.Code).Msg("failed to save session pointer")
		}
	}
	if err := m.backend.Subscribe(ctx, s.Code, m); err != nil {
		// the watchdog reconnects and refetches once the channel is reachable
		log.Error().Err(err).Str("session_code", s.Code).Msg("failed to subscribe to session events")
	}
	for _, o := range observers {
		o.SessionStarted(s.Code)
	}
	m.changed()

	if eff.has(effectCheckReveal) {
		m.maybeAutoReveal(ctx, s.Code)
	}
	return nil
}

// StartVoting opens a voting round. Facilitator only.
func (m *Machine) StartVoting(ctx context.Context) {
	m.mu.Lock()
	if !m.authorizedLocked("start voting") {
		m.mu.Unlock()
		return
	}
	if m.state.Phase != PhaseWaiting && m.state.Phase != PhaseRevealed {
		log.Debug().Str("phase", string(m.state.Phase)).Msg("start voting ignored")
		m.mu.Unlock()
		return
	}
	m.state.Phase = PhaseVoting
	m.state.resetVotes()
	m.state.TimerSeconds = m.state.TimerCeiling
	m.startCountdownLocked()
	code := m.state.Code
	m.mu.Unlock()
	m.changed()

	if err := m.backend.StartVoting(ctx, code); err != nil {
		log.Error().Err(AsRemote("start voting", err)).Str("session_code", code).Msg("start voting rejected")
	}
}

// SelectCard records the local user's vote for the current round. A second
// call in the same round is ignored. When the remote call is rejected the
// vote is rolled back.
func (m *Machine) SelectCard(ctx context.Context, v vote.Value) {
	if !vote.InCatalog(v) {
		log.Warn().Str("card", v.String()).Msg("card not in catalog")
		return
	}

	m.mu.Lock()
	if m.state.Phase != PhaseVoting {
		m.mu.Unlock()
		return
	}
	i := m.state.indexOf(m.state.User.ID)
	if i < 0 || m.state.Participants[i].HasVoted {
		m.mu.Unlock()
		return
	}
	own, card := v, v
	m.state.Participants[i].HasVoted = true
	m.state.Participants[i].Vote = &own
	m.state.UserCard = &card
	code, userID, round := m.state.Code, m.state.User.ID, m.state.Round
	m.mu.Unlock()
	m.changed()

	if err := m.backend.SubmitVote(ctx, code, userID, v); err != nil {
		log.Error().Err(AsRemote("vote", err)).Str("session_code", code).Str("card", v.String()).Msg("vote rejected, rolling back")
		m.rollbackVote(code, round, v)
		return
	}
	m.maybeAutoReveal(ctx, code)
}

func (m *Machine) rollbackVote(code string, round int, v vote.Value) {
	m.mu.Lock()
	if m.state.Code != code || m.state.Phase != PhaseVoting || m.state.Round != round {
		m.mu.Unlock()
		return
	}
	i := m.state.indexOf(m.state.User.ID)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	p := &m.state.Participants[i]
	if p.Vote != nil && *p.Vote == v {
		p.HasVoted = false
		p.Vote = nil
		m.state.UserCard = nil
	}
	m.mu.Unlock()
	m.changed()
}

// RevealCards ends the voting round. Facilitator only.
func (m *Machine) RevealCards(ctx context.Context) {
	m.mu.Lock()
	if !m.authorizedLocked("reveal cards") {
		m.mu.Unlock()
		return
	}
	if m.state.Phase != PhaseVoting {
		m.mu.Unlock()
		return
	}
	m.stopCountdownLocked()
	m.state.Phase = PhaseRevealed
	code := m.state.Code
	m.mu.Unlock()
	m.changed()

	if err := m.backend.RevealVotes(ctx, code); err != nil {
		log.Error().Err(AsRemote("reveal", err)).Str("session_code", code).Msg("reveal rejected")
	}
}

// StartNewRound moves from a revealed round to the next voting round.
// Facilitator only.
func (m *Machine) StartNewRound(ctx context.Context) {
	m.mu.Lock()
	if !m.authorizedLocked("start new round") {
		m.mu.Unlock()
		return
	}
	if m.state.Phase != PhaseRevealed {
		m.mu.Unlock()
		return
	}
	m.state.Round++
	m.state.Phase = PhaseVoting
	m.state.resetVotes()
	m.state.TimerSeconds = m.state.TimerCeiling
	m.startCountdownLocked()
	code, round := m.state.Code, m.state.Round
	m.mu.Unlock()
	m.changed()

	if err := m.backend.NextRound(ctx, code); err != nil {
		log.Error().Err(AsRemote("next round", err)).Str("session_code", code).Int("round", round).Msg("next round rejected")
	}
}

// RemoveParticipant asks the service to remove another participant. The
// roster changes when the matching event arrives. Facilitator only.
func (m *Machine) RemoveParticipant(ctx context.Context, participantID int64) error {
	m.mu.Lock()
	if !m.authorizedLocked("remove participant") {
		m.mu.Unlock()
		return nil
	}
	if participantID == m.state.User.ID {
		m.mu.Unlock()
		log.Warn().Int64("participant_id", participantID).Msg("facilitator cannot remove themselves")
		return nil
	}
	code := m.state.Code
	m.mu.Unlock()

	if err := m.backend.RemoveParticipant(ctx, code, participantID); err != nil {
		return AsRemote("remove participant", err)
	}
	return nil
}

// Leave resets the local session immediately and tells the service on a
// best-effort basis.
func (m *Machine) Leave(ctx context.Context) {
	m.mu.Lock()
	if !m.state.InSession() {
		m.mu.Unlock()
		return
	}
	code, userID := m.state.Code, m.state.User.ID
	m.resetLocked()
	m.mu.Unlock()

	if err := m.backend.LeaveSession(ctx, code, userID); err != nil {
		log.Warn().Err(AsRemote("leave", err)).Str("session_code", code).Msg("leave call failed, local state already reset")
	}
	m.teardown(ctx, code, nil)
	log.Info().Str("session_code", code).Msg("left session")
}

// Refresh refetches the session and merges it into the local view.
func (m *Machine) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.InSession() {
		m.mu.Unlock()
		return nil
	}
	code := m.state.Code
	m.mu.Unlock()

	snap, err := m.backend.GetSession(ctx, code)
	if err != nil {
		return AsRemote("get session", err)
	}

	m.mu.Lock()
	if m.state.Code != code {
		m.mu.Unlock()
		return nil
	}
	next, eff := mergeSnapshot(m.state.Clone(), snap)
	m.commitLocked(ctx, code, next, eff)
	return nil
}

// HandleEvent applies one inbound event. Events for any session other than
// the current one are dropped.
func (m *Machine) HandleEvent(ctx context.Context, env events.Envelope) {
	m.mu.Lock()
	code := m.state.Code
	if !m.state.InSession() || NormalizeCode(env.SessionCode) != code {
		m.mu.Unlock()
		log.Debug().Str("event_type", string(env.EventType)).Str("session_code", env.SessionCode).Msg("dropping event for inactive session")
		return
	}
	tr, ok := m.handlers[env.EventType]
	if !ok {
		m.mu.Unlock()
		log.Warn().Str("event_type", string(env.EventType)).Msg("no handler for event")
		return
	}
	next, eff, err := tr(m.state.Clone(), env)
	if err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Str("event_type", string(env.EventType)).Str("event_id", env.EventID).Msg("failed to apply event")
		return
	}
	log.Debug().Str("event_type", string(env.EventType)).Str("session_code", code).Msg("event applied")
	m.commitLocked(ctx, code, next, eff)
}

// commitLocked installs next and applies eff. It is entered with m.mu held
// and returns with it released.
func (m *Machine) commitLocked(ctx context.Context, code string, next State, eff effect) {
	if eff.has(effectRemoved) || eff.has(effectEnded) {
		m.resetLocked()
		m.mu.Unlock()

		notice := Notice{Kind: NoticeSessionEnded, Code: code, Message: "The session has ended"}
		if eff.has(effectRemoved) {
			notice = Notice{Kind: NoticeRemoved, Code: code, Message: "You have been removed from the session"}
		}
		log.Info().Str("session_code", code).Str("reason", string(notice.Kind)).Msg("session closed remotely")
		m.teardown(ctx, code, &notice)
		return
	}

	m.state = next
	switch {
	case eff.has(effectStartTimer):
		m.startCountdownLocked()
	case eff.has(effectStopTimer):
		m.stopCountdownLocked()
	}
	m.mu.Unlock()
	m.changed()

	if eff.has(effectCheckReveal) {
		m.maybeAutoReveal(ctx, code)
	}
}

// maybeAutoReveal reveals once everyone voted, on the facilitator's client only.
func (m *Machine) maybeAutoReveal(ctx context.Context, code string) {
	m.mu.Lock()
	ready := m.state.Code == code &&
		m.state.Phase == PhaseVoting &&
		m.state.User.IsFacilitator &&
		m.state.AllVoted()
	m.mu.Unlock()
	if ready {
		log.Debug().Str("session_code", code).Msg("all participants voted, revealing")
		m.RevealCards(ctx)
	}
}

func (m *Machine) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.state.Phase != PhaseVoting {
		m.mu.Unlock()
		return
	}
	if m.state.TimerSeconds > 0 {
		m.state.TimerSeconds--
	}
	reveal := false
	if m.state.TimerSeconds == 0 {
		m.stopCountdownLocked()
		reveal = m.state.User.IsFacilitator
	}
	m.mu.Unlock()
	m.changed()

	if reveal {
		ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
		defer cancel()
		m.RevealCards(ctx)
	}
}

func (m *Machine) startCountdownLocked() {
	m.timerGen++
	gen := m.timerGen
	m.countdown.Start(func() { m.tick(gen) })
}

func (m *Machine) stopCountdownLocked() {
	m.timerGen++
	m.countdown.Stop()
}

func (m *Machine) resetLocked() {
	m.stopCountdownLocked()
	user := m.state.User
	m.state = initialState()
	m.state.User = User{Name: user.Name, Emoji: user.Emoji}
}

// teardown releases everything tied to a session that already left the state.
func (m *Machine) teardown(ctx context.Context, code string, notice *Notice) {
	m.backend.Unsubscribe()
	if m.store != nil {
		if err := m.store.ClearPointer(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to clear session pointer")
		}
	}

	m.mu.Lock()
	observers := append([]SessionObserver(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range observers {
		o.SessionEnded(code)
	}
	m.changed()
	if notice != nil && m.onNotice != nil {
		m.onNotice(*notice)
	}
}

func (m *Machine) authorizedLocked(action string) bool {
	if !m.state.InSession() {
		return false
	}
	if !m.state.User.IsFacilitator {
		log.Warn().Err(&UnauthorizedActionError{Action: action}).Str("session_code", m.state.Code).Msg("action ignored")
		return false
	}
	return true
}

func (m *Machine) inSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InSession()
}

func (m *Machine) changed() {
	if m.onChange == nil {
		return
	}
	m.onChange(m.State())
}

func containsRecord(records []events.ParticipantRecord, id int64) bool {
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// IsStale reports whether err means the saved pointer is no longer valid.
func IsStale(err error) bool {
	var se *StaleSessionError
	return errors.As(err, &se)
}
