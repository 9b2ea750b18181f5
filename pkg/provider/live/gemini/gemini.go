// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Audio travels as base64-encoded PCM; server frames are decoded
// into an ordered [live.Event] stream.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// defaultReadLimit bounds a single server frame. Audio frames routinely
	// exceed the websocket package default of 32 KiB.
	defaultReadLimit = 16 << 20

	defaultKeepaliveInterval = 20 * time.Second
	defaultKeepaliveTimeout  = 5 * time.Second

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithReadLimit overrides the maximum size of a single server frame in bytes.
func WithReadLimit(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.readLimit = n
		}
	}
}

// WithKeepalive overrides how often the session pings the server and how long
// each ping may wait for its pong.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(p *Provider) {
		if interval > 0 {
			p.keepaliveInterval = interval
		}
		if timeout > 0 {
			p.keepaliveTimeout = timeout
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	readLimit  int64
	httpClient *http.Client

	keepaliveInterval time.Duration
	keepaliveTimeout  time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		readLimit: defaultReadLimit,

		keepaliveInterval: defaultKeepaliveInterval,
		keepaliveTimeout:  defaultKeepaliveTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect dials the Gemini Live endpoint and sends the setup message. The
// returned session emits [live.EventOpen] once the server answers with
// setupComplete.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(p.readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(buildSetup(p.model, cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop(p.keepaliveInterval, p.keepaliveTimeout)

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []live.Modality `json:"responseModalities"`
	SpeechConfig       *speechConfig   `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *inlineData `json:"audio,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// buildSetup translates cfg into the BidiGenerateContent setup frame.
func buildSetup(model string, cfg live.SessionConfig) setupMessage {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []live.Modality{live.ModalityAudio}
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: modalities,
			},
		},
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.VoiceName != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		}
	}
	if cfg.OutputAudioTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	if cfg.InputAudioTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// emit delivers ev unless the session has been closed locally.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop reads frames from the WebSocket and turns them into events.
// It owns the events channel: EventClose is always the last event and the
// channel is closed when the loop exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err, "bytes", len(data))
			continue
		}
		if !s.dispatch(&msg) {
			return
		}
	}
}

// finish emits the terminal events for a read error.
func (s *session) finish(err error) {
	if s.ctx.Err() != nil {
		// Closed locally; nobody is listening any more.
		return
	}

	var ce websocket.CloseError
	if errors.As(err, &ce) {
		s.emit(live.Event{Kind: live.EventClose, Close: &live.CloseInfo{Code: int(ce.Code), Reason: ce.Reason}})
		return
	}

	if !s.emit(live.Event{Kind: live.EventError, Err: fmt.Errorf("gemini: read: %w", err)}) {
		return
	}
	s.emit(live.Event{Kind: live.EventClose, Close: &live.CloseInfo{Code: -1}})
}

// dispatch converts one server frame into zero or more events. It returns
// false when the session has been closed.
func (s *session) dispatch(msg *serverMessage) bool {
	if msg.SetupComplete != nil {
		if !s.emit(live.Event{Kind: live.EventOpen}) {
			return false
		}
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		rerr := &live.RemoteError{Code: msg.Error.Code, Status: msg.Error.Status, Message: text}
		if !s.emit(live.Event{Kind: live.EventError, Err: rerr}) {
			return false
		}
	}
	if msg.GoAway != nil {
		slog.Debug("gemini: server announced disconnect", "time_left", msg.GoAway.TimeLeft)
	}
	if msg.ServerContent != nil {
		if m := convertContent(msg.ServerContent); m != nil {
			return s.emit(live.Event{Kind: live.EventMessage, Message: m})
		}
	}
	return true
}

// convertContent flattens a serverContent frame into a live.ServerMessage.
// It returns nil when the frame carries nothing the caller cares about.
func convertContent(sc *serverContent) *live.ServerMessage {
	m := &live.ServerMessage{TurnComplete: sc.TurnComplete}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" && strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				m.AudioChunks = append(m.AudioChunks, p.InlineData.Data)
			}
			if p.Text != "" {
				m.Parts = append(m.Parts, live.Part{Text: p.Text, Thought: p.Thought})
			}
		}
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscription = sc.OutputTranscription.Text
	}
	if sc.InputTranscription != nil {
		m.InputTranscription = sc.InputTranscription.Text
	}

	if len(m.AudioChunks) == 0 && len(m.Parts) == 0 && m.OutputTranscription == "" &&
		m.InputTranscription == "" && !m.TurnComplete {
		return nil
	}
	return m
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, timeout)
			if err := s.conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ── live.Session methods ───────────────────────────────────────────────────────

// SendClientContent pushes conversational turns to the model.
func (s *session) SendClientContent(turns []live.Turn, turnComplete bool) error {
	if s.isClosed() {
		return errors.New("gemini: session closed")
	}

	msg := clientContentMessage{ClientContent: clientContent{TurnComplete: turnComplete}}
	for _, t := range turns {
		role := t.Role
		if !role.IsValid() {
			role = live.RoleUser
		}
		msg.ClientContent.Turns = append(msg.ClientContent.Turns, content{
			Role:  string(role),
			Parts: []part{{Text: t.Content}},
		})
	}
	return s.writeJSON(msg)
}

// SendRealtimeInput pushes a raw audio frame.
func (s *session) SendRealtimeInput(blob live.Blob) error {
	if s.isClosed() {
		return errors.New("gemini: session closed")
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &inlineData{
				MIMEType: blob.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(blob.Data),
			},
		},
	}
	return s.writeJSON(msg)
}

// Events returns the ordered event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
