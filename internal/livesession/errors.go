package livesession

import (
	"errors"
	"fmt"
)

// Kind classifies why a session failed.
type Kind string

const (
	// KindConnection means the session could not be opened or written to.
	KindConnection Kind = "connection"

	// KindRemote means the remote service reported an error on the stream.
	KindRemote Kind = "remote"

	// KindTimeout means no terminal signal arrived before the deadline and
	// nothing usable had been accumulated.
	KindTimeout Kind = "timeout"

	// KindEmptySession means the stream ended without producing content.
	KindEmptySession Kind = "empty_session"

	// KindCanceled means the caller's context was cancelled.
	KindCanceled Kind = "canceled"

	// KindResponseTooLarge means the response exceeded the audio chunk cap.
	KindResponseTooLarge Kind = "response_too_large"
)

// Phase names the part of the lifecycle in which a failure happened.
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseSend    Phase = "send"
	PhaseStream  Phase = "stream"
	PhaseClose   Phase = "close"
	PhaseTimeout Phase = "timeout"
	PhaseCancel  Phase = "cancel"
)

// Sentinels matched by [Error.Is], one per [Kind].
var (
	ErrConnection       = errors.New("live session connection failed")
	ErrRemote           = errors.New("live session remote error")
	ErrTimeout          = errors.New("live session timed out")
	ErrEmptySession     = errors.New("live session produced no content")
	ErrCanceled         = errors.New("live session canceled")
	ErrResponseTooLarge = errors.New("live session response too large")
)

var kindSentinels = map[Kind]error{
	KindConnection:       ErrConnection,
	KindRemote:           ErrRemote,
	KindTimeout:          ErrTimeout,
	KindEmptySession:     ErrEmptySession,
	KindCanceled:         ErrCanceled,
	KindResponseTooLarge: ErrResponseTooLarge,
}

// Error is the failure type returned by every [Controller] operation.
type Error struct {
	Kind      Kind
	Phase     Phase
	SessionID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("livesession: %s during %s: %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("livesession: %s during %s", e.Kind, e.Phase)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Retryable reports whether retrying the same request may succeed.
// Connection failures and timeouts are transient; remote errors and empty
// sessions are not.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection || e.Kind == KindTimeout
}

func newError(kind Kind, phase Phase, id string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, SessionID: id, Err: err}
}
