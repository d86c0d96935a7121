package ops

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a Minion exited or a command handler failed.
type ErrorKind int

const (
	// ErrorKindInput covers bad input the caller supplied: a malformed
	// URL, invalid state for the requested operation. Reported to a
	// status queue; the command itself still returns success.
	ErrorKindInput ErrorKind = iota
	// ErrorKindTransient covers connection resets, timeouts, 5xx
	// handshakes, and 4xx statuses other than the permanent set. The
	// Overlord applies a short exclusion and may re-engage persistent
	// jobs once it elapses.
	ErrorKindTransient
	// ErrorKindPermanent covers statuses that mean "do not come back
	// soon": 401/402/403/404/407/451/501/502/301/308, or an explicit
	// relay-rejected-us outcome. Persistent jobs are not auto re-engaged.
	ErrorKindPermanent
	// ErrorKindStorage covers a read/write failure against the relay
	// record store or event store. Logged, the command fails, the loop
	// continues.
	ErrorKindStorage
	// ErrorKindShutdown means the inbox closed or shutting_down was
	// observed; the loop exits cleanly, not as a failure.
	ErrorKindShutdown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindInput:
		return "input"
	case ErrorKindTransient:
		return "transient"
	case ErrorKindPermanent:
		return "permanent"
	case ErrorKindStorage:
		return "storage"
	case ErrorKindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// RelayError is what a Minion returns on exit: a classified outcome plus,
// for handshake failures, the HTTP status observed.
type RelayError struct {
	Kind   ErrorKind
	Status int // HTTP status from handshake, 0 if not applicable
	Err    error
}

func (e *RelayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("relay error (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("relay error (%s): %v", e.Kind, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// ErrRelayRejectedUs is the application-level "the relay does not want
// us" outcome: classified as permanent with an effectively year-long
// exclusion.
var ErrRelayRejectedUs = errors.New("ops: relay rejected us")

// ErrResetWithoutClose is a protocol-level reset observed without a
// clean WebSocket closing handshake.
var ErrResetWithoutClose = errors.New("ops: connection reset without closing handshake")

// ErrShuttingDown signals the Overlord's shutting_down flag was observed.
var ErrShuttingDown = errors.New("ops: shutting down")

// permanentStatuses are the handshake HTTP statuses classified as a
// long-lived exclusion rather than a short retry window.
var permanentStatuses = map[int]bool{
	401: true, 402: true, 403: true, 404: true, 407: true,
	451: true, 501: true, 502: true, 301: true, 308: true,
}

// ClassifyHandshakeStatus reports the ErrorKind for an HTTP status
// observed during a WebSocket handshake or capability probe.
func ClassifyHandshakeStatus(status int) ErrorKind {
	if permanentStatuses[status] {
		return ErrorKindPermanent
	}
	if status >= 400 {
		return ErrorKindTransient
	}
	return ErrorKindTransient
}
