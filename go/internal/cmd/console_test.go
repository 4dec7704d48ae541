package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/mockapi"
	"github.com/mcdev12/estimate/go/internal/session/remotesync"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/vote"
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

// newHostConsole puts a facilitator into a fresh mock session.
func newHostConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	bus := channel.NewMemory()
	t.Cleanup(func() { _ = bus.Close() })

	svc := mockapi.New(bus, mockapi.Options{Clock: clockwork.NewFakeClock(), Seed: 7})
	m := state.NewMachine(remotesync.New(svc, bus), state.Options{Clock: clockwork.NewFakeClock()})
	if err := m.Create(context.Background(), events.Profile{Name: "Host", Emoji: "🎩"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out := &bytes.Buffer{}
	return &console{machine: m, inviteBase: "https://estimate.example/join", out: out}, out
}

func TestParseCard(t *testing.T) {
	tests := []struct {
		in      string
		want    vote.Value
		wantErr bool
	}{
		{in: "5", want: vote.Points(5)},
		{in: "1/2", want: vote.Points(0.5)},
		{in: "½", want: vote.Points(0.5)},
		{in: "?", want: vote.Unknown},
		{in: "☕", want: vote.Break},
		{in: "BREAK", want: vote.Break},
		{in: "coffee", want: vote.Break},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCard(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseCard(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCard(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseCard(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDispatchRunsARound(t *testing.T) {
	c, out := newHostConsole(t)
	ctx := context.Background()

	for _, line := range []string{"start", "vote 5"} {
		if err := c.dispatch(ctx, line); err != nil {
			t.Fatalf("dispatch(%q): %v", line, err)
		}
	}

	// the only participant voted, so the facilitator's client reveals
	waitFor(t, "reveal", func() bool { return c.machine.State().Phase == state.PhaseRevealed })
	r := c.machine.Results()
	if r == nil || r.Average == nil || *r.Average != 5 {
		t.Fatalf("results = %+v, want average 5", r)
	}

	if err := c.dispatch(ctx, "next"); err != nil {
		t.Fatalf("dispatch(next): %v", err)
	}
	waitFor(t, "next round", func() bool {
		s := c.machine.State()
		return s.Round == 2 && s.Phase == state.PhaseVoting && s.UserCard == nil
	})
	s := c.machine.State()

	if err := c.dispatch(ctx, "status"); err != nil {
		t.Fatalf("dispatch(status): %v", err)
	}
	if !strings.Contains(out.String(), s.Code) {
		t.Errorf("status output does not mention %s:\n%s", s.Code, out.String())
	}
}

func TestDispatchRejectsBadInput(t *testing.T) {
	c, _ := newHostConsole(t)
	ctx := context.Background()

	for _, line := range []string{"vote", "vote 4", "vote nope", "kick", "kick bob", "dance"} {
		if err := c.dispatch(ctx, line); err == nil {
			t.Errorf("dispatch(%q) succeeded, want error", line)
		}
	}
	if err := c.dispatch(ctx, "   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
	if err := c.dispatch(ctx, "kick 99"); err == nil {
		t.Error("kicking an unknown participant succeeded")
	}
}

func TestDispatchInvite(t *testing.T) {
	c, out := newHostConsole(t)
	if err := c.dispatch(context.Background(), "invite"); err != nil {
		t.Fatalf("dispatch(invite): %v", err)
	}
	want := "https://estimate.example/join?join=" + c.machine.State().Code
	if !strings.Contains(out.String(), want) {
		t.Errorf("output %q does not contain %q", out.String(), want)
	}
}

func TestDispatchLeaveQuits(t *testing.T) {
	c, _ := newHostConsole(t)
	if err := c.dispatch(context.Background(), "leave"); !errors.Is(err, errQuit) {
		t.Fatalf("dispatch(leave) = %v, want errQuit", err)
	}
	if c.machine.State().InSession() {
		t.Error("still in session after leave")
	}
	if err := c.invite(); err == nil {
		t.Error("invite outside a session succeeded")
	}
}

func TestRunStopsOnQuitAndNotice(t *testing.T) {
	c, out := newHostConsole(t)

	in := strings.NewReader("help\nquit\nstart\n")
	if err := c.run(context.Background(), in, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.machine.State().Phase != state.PhaseWaiting {
		t.Errorf("phase = %s, commands after quit ran", c.machine.State().Phase)
	}
	if !strings.Contains(out.String(), "commands:") {
		t.Errorf("help not printed:\n%s", out.String())
	}

	notices := make(chan state.Notice, 1)
	notices <- state.Notice{Kind: state.NoticeSessionEnded, Message: "The session has ended"}
	done := make(chan error, 1)
	go func() { done <- c.run(context.Background(), blockingReader{}, notices, nil) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on a notice")
	}
}

// blockingReader never yields a line.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}
