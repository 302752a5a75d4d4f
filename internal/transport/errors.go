package transport

import (
	"errors"
	"fmt"
)

// ErrorClass separates per-call failures into the two buckets the session
// layer cares about: failures of the channel itself (feed reconnection) and
// failures the remote reported for this particular request (surfaced to the
// caller without touching the session).
type ErrorClass int

const (
	ClassConnection ErrorClass = iota
	ClassApplication
)

// Well-known application error codes reported by the engine.
const (
	CodeUnknownSession = "unknown_session"
	CodeUnknownMethod  = "unknown_method"
)

// Codes the transport itself synthesizes for channel-level failures.
const (
	CodeTimeout      = "timeout"
	CodeDisconnected = "disconnected"
	CodeCancelled    = "cancelled"
)

// ConnectError reports a failure to establish a channel.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RpcError reports a failure of a single call.
type RpcError struct {
	Method  string
	Code    string
	Message string
	Class   ErrorClass
}

func (e *RpcError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rpc %s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("rpc %s: %s: %s", e.Method, e.Code, e.Message)
}

// IsConnectionError reports whether err indicates the channel itself is
// unusable, as opposed to the remote rejecting one request.
func IsConnectionError(err error) bool {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return true
	}
	var re *RpcError
	if errors.As(err, &re) {
		return re.Class == ClassConnection
	}
	return false
}

// IsUnknownSession reports whether the remote rejected the call because the
// referenced session id is no longer known to it.
func IsUnknownSession(err error) bool {
	var re *RpcError
	return errors.As(err, &re) && re.Code == CodeUnknownSession
}
