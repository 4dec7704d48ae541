package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCountdownTicksOncePerSecond(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)

	var ticks atomic.Int32
	c.Start(func() { ticks.Add(1) })
	defer c.Stop()

	for i := 1; i <= 3; i++ {
		clock.Advance(TickInterval)
		want := int32(i)
		waitFor(t, func() bool { return ticks.Load() == want })
	}
}

func TestCountdownStopIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)

	var ticks atomic.Int32
	c.Start(func() { ticks.Add(1) })
	if !c.Running() {
		t.Fatal("expected countdown to be running")
	}

	c.Stop()
	c.Stop()
	if c.Running() {
		t.Fatal("expected countdown to be stopped")
	}

	clock.Advance(5 * TickInterval)
	time.Sleep(20 * time.Millisecond)
	if got := ticks.Load(); got != 0 {
		t.Fatalf("ticks after stop = %d, want 0", got)
	}
}

func TestCountdownRestartCancelsPrevious(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)

	var first, second atomic.Int32
	c.Start(func() { first.Add(1) })
	c.Start(func() { second.Add(1) })
	defer c.Stop()

	clock.Advance(TickInterval)
	waitFor(t, func() bool { return second.Load() == 1 })
	if got := first.Load(); got != 0 {
		t.Fatalf("cancelled countdown ticked %d times", got)
	}
}

func TestCountdownStopFromCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCountdown(clock)

	var ticks atomic.Int32
	c.Start(func() {
		ticks.Add(1)
		c.Stop()
	})

	clock.Advance(TickInterval)
	waitFor(t, func() bool { return ticks.Load() == 1 })
	waitFor(t, func() bool { return !c.Running() })
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		remaining int
		want      Band
	}{
		{15, BandGreen},
		{10, BandGreen},
		{7, BandYellow},
		{5, BandYellow},
		{3, BandRed},
		{0, BandRed},
	}
	for _, tt := range tests {
		if got := BandFor(tt.remaining); got != tt.want {
			t.Errorf("BandFor(%d) = %s, want %s", tt.remaining, got, tt.want)
		}
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(15, DefaultCeiling); got != 100 {
		t.Fatalf("Progress(15) = %v", got)
	}
	if got := Progress(0, DefaultCeiling); got != 0 {
		t.Fatalf("Progress(0) = %v", got)
	}
	if got := Progress(3, 0); got != 0 {
		t.Fatalf("Progress with zero ceiling = %v", got)
	}
}
