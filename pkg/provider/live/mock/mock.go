// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the server's event stream and inspect what the
// caller sent.
//
// Example:
//
//	sess := mock.NewSession(
//	    mock.Open(),
//	    mock.Audio("QUJD"),
//	    mock.OutputText("Hello there"),
//	    mock.TurnComplete(),
//	)
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// with an open, empty event channel.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{EventsCh: make(chan live.Event, 16)}, nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var _ live.Provider = (*Provider)(nil)

// ClientContentCall records a single invocation of Session.SendClientContent.
type ClientContentCall struct {
	Turns        []live.Turn
	TurnComplete bool
}

// Session is a mock implementation of live.Session. Tests own EventsCh: push
// events into it and close it to simulate end of stream.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events().
	EventsCh chan live.Event

	// SendClientContentErr, if non-nil, is returned by every SendClientContent call.
	SendClientContentErr error

	// SendRealtimeInputErr, if non-nil, is returned by every SendRealtimeInput call.
	SendRealtimeInputErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ClientContentCalls records every call to SendClientContent in order.
	ClientContentCalls []ClientContentCall

	// RealtimeInputCalls records every call to SendRealtimeInput in order.
	RealtimeInputCalls []live.Blob

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session whose event channel is pre-loaded with events
// and left open, so the stream only ends when a test closes it.
func NewSession(events ...live.Event) *Session {
	ch := make(chan live.Event, len(events)+16)
	for _, ev := range events {
		ch <- ev
	}
	return &Session{EventsCh: ch}
}

// NewClosedSession is like NewSession but closes the event channel after the
// scripted events.
func NewClosedSession(events ...live.Event) *Session {
	s := NewSession(events...)
	close(s.EventsCh)
	return s
}

// SendClientContent records the call and returns SendClientContentErr.
func (s *Session) SendClientContent(turns []live.Turn, turnComplete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]live.Turn(nil), turns...)
	s.ClientContentCalls = append(s.ClientContentCalls, ClientContentCall{Turns: cp, TurnComplete: turnComplete})
	return s.SendClientContentErr
}

// SendRealtimeInput records the call and returns SendRealtimeInputErr.
func (s *Session) SendRealtimeInput(blob live.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := live.Blob{Data: append([]byte(nil), blob.Data...), MIMEType: blob.MIMEType}
	s.RealtimeInputCalls = append(s.RealtimeInputCalls, cp)
	return s.SendRealtimeInputErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan live.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// ClientContent returns a copy of ClientContentCalls. Thread-safe.
func (s *Session) ClientContent() []ClientContentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClientContentCall(nil), s.ClientContentCalls...)
}

// RealtimeInput returns a copy of RealtimeInputCalls. Thread-safe.
func (s *Session) RealtimeInput() []live.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Blob(nil), s.RealtimeInputCalls...)
}

var _ live.Session = (*Session)(nil)

// ── Event builders ────────────────────────────────────────────────────────────

// Open returns an EventOpen.
func Open() live.Event { return live.Event{Kind: live.EventOpen} }

// Audio returns a message event carrying base64 audio chunks.
func Audio(chunks ...string) live.Event {
	return Message(live.ServerMessage{AudioChunks: chunks})
}

// Thought returns a message event carrying a reasoning part.
func Thought(text string) live.Event {
	return Message(live.ServerMessage{Parts: []live.Part{{Text: text, Thought: true}}})
}

// ModelText returns a message event carrying a plain model-turn text part.
func ModelText(text string) live.Event {
	return Message(live.ServerMessage{Parts: []live.Part{{Text: text}}})
}

// OutputText returns a message event carrying an output transcription fragment.
func OutputText(text string) live.Event {
	return Message(live.ServerMessage{OutputTranscription: text})
}

// InputText returns a message event carrying an input transcription fragment.
func InputText(text string) live.Event {
	return Message(live.ServerMessage{InputTranscription: text})
}

// TurnComplete returns a message event with TurnComplete set.
func TurnComplete() live.Event {
	return Message(live.ServerMessage{TurnComplete: true})
}

// Message wraps m in an EventMessage.
func Message(m live.ServerMessage) live.Event {
	return live.Event{Kind: live.EventMessage, Message: &m}
}

// Error returns an EventError.
func Error(err error) live.Event { return live.Event{Kind: live.EventError, Err: err} }

// Closed returns an EventClose with the given code and reason.
func Closed(code int, reason string) live.Event {
	return live.Event{Kind: live.EventClose, Close: &live.CloseInfo{Code: code, Reason: reason}}
}
