// Package live defines the Provider interface for bidirectional generative
// audio/text backends such as the Gemini Live API.
//
// A live session is a duplex stream: the client pushes conversational turns or
// realtime audio frames, and the server answers with a sequence of partial
// messages (audio chunks, model-turn text, transcription fragments) terminated
// by a turn-complete signal. Everything the server does is surfaced through a
// single ordered [Event] channel so consumers can drive an explicit state
// machine from one goroutine.
//
// Implementations must be safe for concurrent use.
package live

import (
	"context"
	"fmt"
)

// Role identifies the speaker of a [Turn].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleModel
}

// Turn is one entry of dialogue history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Modality selects the kind of output the model produces.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Blob is an inline binary payload, e.g. a realtime audio frame.
type Blob struct {
	// Data holds the raw bytes. Transports encode it as needed.
	Data []byte

	// MIMEType describes Data, e.g. "audio/pcm;rate=16000" or "audio/webm".
	MIMEType string
}

// SessionConfig is the setup sent when a session is opened.
type SessionConfig struct {
	// SystemInstruction is the system-level prompt for the session.
	SystemInstruction string

	// ResponseModalities lists the requested output modalities. Defaults to
	// audio when empty.
	ResponseModalities []Modality

	// VoiceName selects a prebuilt synthetic voice. Empty leaves the
	// provider default.
	VoiceName string

	// OutputAudioTranscription asks the server to transcribe its own audio.
	OutputAudioTranscription bool

	// InputAudioTranscription asks the server to transcribe audio sent by the
	// client.
	InputAudioTranscription bool
}

// Part is one piece of a model turn.
type Part struct {
	// Text is set for text parts.
	Text string

	// Thought marks internal reasoning text that must never reach end users.
	Thought bool
}

// ServerMessage is a decoded content message from the server.
type ServerMessage struct {
	// AudioChunks holds base64-encoded PCM chunks in emission order.
	AudioChunks []string

	// Parts holds the text parts of the model turn, if any.
	Parts []Part

	// OutputTranscription is a fragment of the transcript of the model's audio.
	OutputTranscription string

	// InputTranscription is a fragment of the transcript of the client's audio.
	InputTranscription string

	// TurnComplete is set when the model has finished its turn.
	TurnComplete bool
}

// EventKind enumerates the event types delivered on [Session.Events].
type EventKind int

const (
	// EventOpen signals that the server acknowledged the session setup.
	EventOpen EventKind = iota

	// EventMessage carries a [ServerMessage].
	EventMessage

	// EventError carries a server-reported or transport error.
	EventError

	// EventClose is always the last event before the channel closes.
	EventClose
)

// String returns the lower-case event name.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// CloseInfo describes how the stream ended.
type CloseInfo struct {
	// Code is the WebSocket close status, or -1 when unknown.
	Code int

	// Reason is the close reason sent by the peer, if any.
	Reason string
}

// Event is a single item of the session's event stream.
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message *ServerMessage

	// Err is set for EventError.
	Err error

	// Close is set for EventClose.
	Close *CloseInfo
}

// RemoteError is an error reported by the remote service on an open stream.
type RemoteError struct {
	Code    int
	Status  string
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Session is an open duplex stream. Callers must call Close when done.
type Session interface {
	// SendClientContent pushes conversational turns. turnComplete tells the
	// server whether to start generating. turns may be empty.
	SendClientContent(turns []Turn, turnComplete bool) error

	// SendRealtimeInput pushes a raw media frame.
	SendRealtimeInput(blob Blob) error

	// Events returns the ordered event stream. The channel is closed after the
	// EventClose event has been delivered.
	Events() <-chan Event

	// Close tears the stream down. It is idempotent and safe to call after the
	// stream has already closed.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect dials the remote service and sends the session setup. The
	// returned session delivers EventOpen once the server acknowledges it.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
