package state

import (
	"errors"
	"fmt"
)

// ErrAlreadyInSession is returned by Create, Join and Rejoin when the machine
// already holds a session. Leave first.
var ErrAlreadyInSession = errors.New("already in a session")

// InvalidCodeError is a local validation failure; it never reaches the network.
type InvalidCodeError struct {
	Code   string
	Reason string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid session code %q: %s", e.Code, e.Reason)
}

// RemoteError is a rejected remote call, either a network failure or a
// server-side denial.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// AsRemote wraps err as a *RemoteError for op unless it already is one.
func AsRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// StaleSessionError means the rejoin target no longer lists the local
// participant. The caller should clear the saved pointer.
type StaleSessionError struct {
	Code          string
	ParticipantID int64
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("session %s no longer contains participant %d", e.Code, e.ParticipantID)
}

// UnauthorizedActionError describes a facilitator-only action attempted by a
// regular participant. It is logged, never returned.
type UnauthorizedActionError struct {
	Action string
}

func (e *UnauthorizedActionError) Error() string {
	return fmt.Sprintf("%s requires the facilitator role", e.Action)
}
