package wsrpc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrNotConnected     = errors.New("socket is not connected")
	ErrMisconfigured    = errors.New("handler misconfiguration")
	ErrDuplicateMessage = errors.New("message name declared more than once")
	ErrMissingCallback  = errors.New("no callback")
	ErrAckAlreadyCalled = errors.New("ack already called")
	ErrValidation       = errors.New("type error")
)

// RemoteError is the rejection of an RPC call: the peer filled the error slot of the reply.
type RemoteError struct {
	Name  string
	Value any
}

func (e *RemoteError) Error() string {
	switch v := e.Value.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%s: remote error: %v", e.Name, v)
	}
}

// TypeError carries the diagnostics of a payload that failed validation.
type TypeError struct {
	Name        string
	Diagnostics string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: Type Error: %s", e.Name, e.Diagnostics)
}

func (e *TypeError) Unwrap() error { return ErrValidation }

func wrapMisconfigured(format string, args ...any) error {
	return errors.Wrapf(ErrMisconfigured, format, args...)
}

func wrapPanic(r any) error {
	return errors.Errorf("handler panicked: %v", r)
}
