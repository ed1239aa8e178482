package session

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportFault marks a socket failure that stopped the session.
	ErrTransportFault = errors.New("transport fault")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrClosed is returned when a closed session is used.
	ErrClosed = errors.New("session closed")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("invalid session options")
)

// FaultError describes the receive error that stopped a worker loop.
type FaultError struct {
	Loop string
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s loop: %v", e.Loop, e.Err)
}

// Unwrap returns the underlying socket error.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransportFault as a match.
func (e *FaultError) Is(target error) bool {
	return target == ErrTransportFault
}
