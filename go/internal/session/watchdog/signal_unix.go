//go:build unix

package watchdog

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// SignalSource maps job control to visibility: Ctrl-Z (SIGTSTP) hides the
// client, resuming it (SIGCONT) makes it visible again. The process still
// stops on SIGTSTP.
type SignalSource struct {
	notifier *Notifier
	sigs     chan os.Signal
	done     chan struct{}
}

func NewSignalSource() *SignalSource {
	s := &SignalSource{
		notifier: NewNotifier(),
		sigs:     make(chan os.Signal, 4),
		done:     make(chan struct{}),
	}
	signal.Notify(s.sigs, syscall.SIGTSTP, syscall.SIGCONT)
	go s.loop()
	return s
}

func (s *SignalSource) Listen(fn func(Visibility)) func() {
	return s.notifier.Listen(fn)
}

func (s *SignalSource) loop() {
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.sigs:
			switch sig {
			case syscall.SIGTSTP:
				s.notifier.Notify(Hidden)
				// trapping SIGTSTP suppresses the default stop; stop explicitly
				if err := syscall.Kill(os.Getpid(), syscall.SIGSTOP); err != nil {
					log.Error().Err(err).Msg("failed to suspend")
				}
			case syscall.SIGCONT:
				s.notifier.Notify(Visible)
			}
		}
	}
}

// Stop releases the signal handlers.
func (s *SignalSource) Stop() {
	signal.Stop(s.sigs)
	close(s.done)
}
