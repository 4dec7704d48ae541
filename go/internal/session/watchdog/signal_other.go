//go:build !unix

package watchdog

// SignalSource never reports changes on platforms without job control.
type SignalSource struct {
	notifier *Notifier
}

func NewSignalSource() *SignalSource {
	return &SignalSource{notifier: NewNotifier()}
}

func (s *SignalSource) Listen(fn func(Visibility)) func() {
	return s.notifier.Listen(fn)
}

func (s *SignalSource) Stop() {}
