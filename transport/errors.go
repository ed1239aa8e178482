package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrSocket is the class of bind, send and receive setup failures.
	ErrSocket = errors.New("socket error")

	// ErrTimeout is returned by Receive when the read deadline expires. It is
	// the polling mechanism of every worker loop, never a failure.
	ErrTimeout = errors.New("receive timeout")

	// ErrAuthentication indicates a received frame whose tag did not verify.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidEndpoint indicates a malformed endpoint descriptor payload.
	ErrInvalidEndpoint = errors.New("invalid endpoint descriptor")

	// ErrHostResolution is the class of failed relay or proxy host lookups.
	ErrHostResolution = errors.New("host resolution failed")
)

// HostResolutionError reports a host name that could not be resolved.
type HostResolutionError struct {
	Host string
	Err  error
}

func (e *HostResolutionError) Error() string {
	return fmt.Sprintf("no such host %q: %v", e.Host, e.Err)
}

func (e *HostResolutionError) Unwrap() error {
	return e.Err
}

// Is makes every HostResolutionError match ErrHostResolution.
func (e *HostResolutionError) Is(target error) bool {
	return target == ErrHostResolution
}

// SocketError represents a socket failure with additional context
type SocketError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *SocketError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("socket %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// Is makes every SocketError match ErrSocket.
func (e *SocketError) Is(target error) bool {
	return target == ErrSocket
}

func newSocketError(op, addr string, err error) *SocketError {
	return &SocketError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
