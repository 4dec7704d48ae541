package mockapi_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/mockapi"
	"github.com/mcdev12/estimate/go/internal/session/remotesync"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/vote"
	"github.com/mcdev12/estimate/go/internal/session/watchdog"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// gate drops everything while closed, standing in for a suspended client
// that misses broadcasts.
type gate struct {
	target channel.Publisher
	closed atomic.Bool
}

func (g *gate) Publish(ctx context.Context, env events.Envelope) error {
	if g.closed.Load() {
		return nil
	}
	return g.target.Publish(ctx, env)
}

type notices struct {
	mu   sync.Mutex
	list []state.Notice
}

func (n *notices) add(notice state.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, notice)
}

func (n *notices) kinds() []state.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []state.NoticeKind
	for _, notice := range n.list {
		out = append(out, notice.Kind)
	}
	return out
}

func TestSessionEndToEnd(t *testing.T) {
	ctx := context.Background()

	hostBus, guestBus := channel.NewMemory(), channel.NewMemory()
	defer hostBus.Close()
	defer guestBus.Close()
	guestGate := &gate{target: guestBus}

	svc := mockapi.New(channel.Fanout{hostBus, guestGate}, mockapi.Options{Clock: clockwork.NewFakeClock(), Seed: 1})

	host := state.NewMachine(remotesync.New(svc, hostBus), state.Options{Clock: clockwork.NewFakeClock()})
	if err := host.Create(ctx, events.Profile{Name: "Host", Emoji: "🎩"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	code := host.State().Code

	guestNotices := &notices{}
	guestAdapter := remotesync.New(svc, guestBus)
	guest := state.NewMachine(guestAdapter, state.Options{Clock: clockwork.NewFakeClock(), OnNotice: guestNotices.add})
	visibility := watchdog.NewNotifier()
	wd := watchdog.New(visibility, guest, guestAdapter)
	guest.AddObserver(wd)

	if err := guest.Join(ctx, code, events.Profile{Name: "Guest", Emoji: "🐧"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !wd.Attached() {
		t.Fatal("watchdog not attached after join")
	}
	waitFor(t, "host to see the guest", func() bool { return host.TotalCount() == 2 })

	// Round 1: both vote, the facilitator's client reveals once everyone has voted.
	host.StartVoting(ctx)
	waitFor(t, "guest to enter voting", func() bool { return guest.State().Phase == state.PhaseVoting })

	guest.SelectCard(ctx, vote.Points(5))
	waitFor(t, "host to see the guest's vote", func() bool { return host.VotedCount() == 1 })
	host.SelectCard(ctx, vote.Points(8))

	waitFor(t, "both clients to reveal", func() bool {
		return host.State().Phase == state.PhaseRevealed && guest.State().Phase == state.PhaseRevealed
	})
	res := guest.Results()
	if res == nil || res.Average == nil || *res.Average != 6.5 {
		t.Fatalf("guest results = %+v, want average 6.5", res)
	}
	if res.Consensus != vote.ConsensusSpread {
		t.Errorf("consensus = %s, want spread", res.Consensus)
	}

	// The guest is suspended while a new participant joins, the next round
	// starts and the newcomer votes.
	guestGate.closed.Store(true)
	guestBus.SetConnected(false)
	visibility.Notify(watchdog.Hidden)

	carol, err := svc.JoinSession(ctx, code, events.Profile{Name: "Carol"})
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	waitFor(t, "host to see carol", func() bool { return host.TotalCount() == 3 })
	host.StartNewRound(ctx)
	if err := svc.SubmitVote(ctx, code, carol.Participant.ID, vote.Points(3)); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}

	if got := guest.State(); got.Round != 1 || got.Phase != state.PhaseRevealed {
		t.Fatalf("suspended guest moved on: round %d phase %s", got.Round, got.Phase)
	}

	guestGate.closed.Store(false)
	visibility.Notify(watchdog.Visible)

	waitFor(t, "guest to catch up", func() bool {
		s := guest.State()
		return s.Round == 2 && s.Phase == state.PhaseVoting && len(s.Participants) == 3
	})
	if guestBus.Reconnects() != 1 {
		t.Errorf("reconnects = %d, want 1", guestBus.Reconnects())
	}
	if guest.VotedCount() != 1 {
		t.Errorf("guest sees %d votes, want carol's", guest.VotedCount())
	}
	if s := guest.State(); s.UserCard != nil {
		t.Errorf("guest card carried into round 2: %v", *s.UserCard)
	}

	// The facilitator leaving ends the session for everyone else.
	host.Leave(ctx)
	waitFor(t, "guest to be sent home", func() bool { return guest.State().Phase == state.PhaseIdle })
	if kinds := guestNotices.kinds(); len(kinds) != 1 || kinds[0] != state.NoticeSessionEnded {
		t.Fatalf("guest notices = %v", kinds)
	}
	if wd.Attached() || visibility.Listeners() != 0 {
		t.Fatal("visibility listener survived the session")
	}
}

func TestDemoSessionWithBots(t *testing.T) {
	ctx := context.Background()
	bus := channel.NewMemory()
	defer bus.Close()
	clock := clockwork.NewFakeClock()

	svc := mockapi.New(bus, mockapi.Options{Clock: clock, Bots: mockapi.DefaultBots(), Seed: 3})
	m := state.NewMachine(remotesync.New(svc, bus), state.Options{Clock: clockwork.NewFakeClock()})
	if err := m.Create(ctx, events.Profile{Name: "Host"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Advance(2 * time.Second)
	waitFor(t, "bots to join", func() bool { return m.TotalCount() == 5 })

	m.StartVoting(ctx)
	m.SelectCard(ctx, vote.Points(3))
	clock.Advance(13 * time.Second)

	waitFor(t, "auto reveal", func() bool { return m.State().Phase == state.PhaseRevealed })
	res := m.Results()
	if res.Participation != 5 || res.Total != 5 {
		t.Fatalf("results = %+v", res)
	}
}
