package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultCeiling is the number of seconds a voting round runs before auto-reveal.
const DefaultCeiling = 15

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// Countdown drives a one-second tick callback. It holds no session data: the
// owner keeps the remaining seconds and decides what a tick means.
//
// At most one countdown runs at a time; Start always cancels the previous one.
type Countdown struct {
	clock clockwork.Clock

	mu     sync.Mutex
	ticker clockwork.Ticker
	done   chan struct{}
}

// NewCountdown creates a countdown driven by clock. In production pass
// clockwork.NewRealClock(); tests use a fake clock.
func NewCountdown(clock clockwork.Clock) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{clock: clock}
}

// Start cancels any running countdown and begins calling onTick once per
// TickInterval until Stop is called. The ticker is armed before Start returns.
func (c *Countdown) Start(onTick func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	ticker := c.clock.NewTicker(TickInterval)
	done := make(chan struct{})
	c.ticker = ticker
	c.done = done

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				select {
				case <-done:
					// stopped while the tick was pending
					return
				default:
				}
				onTick()
			}
		}
	}()

	log.Debug().Dur("interval", TickInterval).Msg("countdown started")
}

// Stop cancels the running countdown. Safe to call repeatedly and from within
// the tick callback.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Running reports whether a countdown is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

func (c *Countdown) stopLocked() {
	if c.done == nil {
		return
	}
	c.ticker.Stop()
	close(c.done)
	c.ticker = nil
	c.done = nil
	log.Debug().Msg("countdown stopped")
}
