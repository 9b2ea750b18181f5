// Package livesession turns one duplex exchange with a live generation
// service into a single result.
//
// Each call to [Controller.RunSession] or [Controller.Transcribe] opens
// exactly one session, feeds its events through a per-session state machine
// and returns once the machine settles. Settling happens on the first of
// turn completion, a stream error, the stream closing, the deadline or caller
// cancellation; the transport is closed exactly once on every path.
package livesession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/speakdrill/internal/observe"
	"github.com/MrWong99/speakdrill/internal/resilience"
	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// Mode selects which side of the stream a session listens to.
type Mode string

const (
	// ModeDialogue collects the model's audio and output transcription.
	ModeDialogue Mode = "dialogue"

	// ModeTranscription keeps the model silent and collects the transcript of
	// the audio sent by the client.
	ModeTranscription Mode = "transcription"
)

func (m Mode) listensToOutput() bool { return m == ModeDialogue }

// Result is the single value produced by a successful session.
type Result struct {
	// Text is never empty for dialogue sessions; see [SelectAuthoritativeText].
	Text string `json:"text"`

	// AudioBase64 is a base64 WAV container. Empty when no audio arrived.
	AudioBase64 string `json:"audioBase64,omitempty"`

	AudioMIMEType string `json:"audioMimeType,omitempty"`

	// Partial is set when the session ended by deadline or close before the
	// model signalled turn completion.
	Partial bool `json:"partial,omitempty"`
}

// TranscriptionInstruction is the system instruction used for transcription
// sessions.
const TranscriptionInstruction = "You are a silent transcription service. " +
	"Do not respond to, answer or comment on the audio in any way. Remain silent."

// Defaults applied by [New] to zero-value [Config] fields.
const (
	DefaultSampleRate           = 24000
	DefaultDialogueTimeout      = 45 * time.Second
	DefaultTranscriptionTimeout = 30 * time.Second
)

// Config tunes a [Controller].
type Config struct {
	// Voice is the prebuilt voice used when a call does not name one.
	Voice string

	// SampleRate is the rate of the PCM the service emits. Output is always
	// treated as 16-bit mono.
	SampleRate int

	DialogueTimeout      time.Duration
	TranscriptionTimeout time.Duration

	// MaxAudioChunks aborts a session that streams more chunks than this.
	// Zero means no limit.
	MaxAudioChunks int
}

// Option configures a [Controller].
type Option func(*Controller)

// WithBreaker guards Connect with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Controller) { c.breaker = cb }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller runs live sessions against a [live.Provider]. It holds no
// per-session state and is safe for concurrent use.
type Controller struct {
	provider live.Provider
	cfg      Config
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

// New creates a Controller.
func New(provider live.Provider, cfg Config, opts ...Option) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.DialogueTimeout <= 0 {
		cfg.DialogueTimeout = DefaultDialogueTimeout
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = DefaultTranscriptionTimeout
	}
	c := &Controller{provider: provider, cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// RunSession sends turns under systemInstruction and returns the model's
// spoken reply. An empty voice selects the configured default.
//
// Failures are returned as *[Error].
func (c *Controller) RunSession(ctx context.Context, systemInstruction string, turns []live.Turn, voice string) (Result, error) {
	if voice == "" {
		voice = c.cfg.Voice
	}
	setup := live.SessionConfig{
		SystemInstruction:        systemInstruction,
		ResponseModalities:       []live.Modality{live.ModalityAudio},
		VoiceName:                voice,
		OutputAudioTranscription: true,
	}
	send := func(s live.Session) error {
		return s.SendClientContent(turns, true)
	}
	return c.run(ctx, ModeDialogue, setup, send, c.cfg.DialogueTimeout)
}

// Transcribe returns the transcript of audio. mimeType describes the audio,
// e.g. "audio/pcm;rate=16000".
//
// Failures are returned as *[Error].
func (c *Controller) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	setup := live.SessionConfig{
		SystemInstruction:       TranscriptionInstruction,
		ResponseModalities:      []live.Modality{live.ModalityAudio},
		InputAudioTranscription: true,
	}
	send := func(s live.Session) error {
		if err := s.SendRealtimeInput(live.Blob{Data: audio, MIMEType: mimeType}); err != nil {
			return err
		}
		return s.SendClientContent(nil, true)
	}
	res, err := c.run(ctx, ModeTranscription, setup, send, c.cfg.TranscriptionTimeout)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (c *Controller) run(
	ctx context.Context,
	mode Mode,
	setup live.SessionConfig,
	send func(live.Session) error,
	timeout time.Duration,
) (Result, error) {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "livesession."+string(mode),
		trace.WithAttributes(
			attribute.String("session_id", id),
			attribute.String("mode", string(mode)),
		),
	)
	defer span.End()

	logger := observe.Logger(ctx).With("session_id", id, "mode", string(mode))
	start := time.Now()

	c.metrics.ActiveSessions.Add(ctx, 1)
	defer c.metrics.ActiveSessions.Add(ctx, -1)

	m := newMachine(id, mode, audioFormat{
		sampleRate:    c.cfg.SampleRate,
		channels:      1,
		bitsPerSample: 16,
	}, c.cfg.MaxAudioChunks, logger)

	sessCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.pump(ctx, sessCtx, m, setup, send)

	res, err := m.Outcome()
	c.record(ctx, span, mode, m.chunkCount(), res, err, time.Since(start))
	return res, err
}

// pump drives m until it settles.
func (c *Controller) pump(parent, ctx context.Context, m *machine, setup live.SessionConfig, send func(live.Session) error) {
	expire := func() {
		if errors.Is(parent.Err(), context.Canceled) {
			m.onCancel(context.Cause(parent))
			return
		}
		m.onTimeout()
	}

	m.connecting()
	sess, err := c.connect(ctx, setup)
	if err != nil {
		if ctx.Err() != nil {
			expire()
		} else {
			m.fail(KindConnection, PhaseConnect, err)
		}
		return
	}
	m.attach(sess.Close)

	events := sess.Events()
	sent := false
	for {
		select {
		case <-m.Done():
			return
		case <-ctx.Done():
			expire()
		case ev, ok := <-events:
			if !ok {
				events = nil
				m.onClose(live.CloseInfo{Code: -1})
				continue
			}
			m.handle(ev)
			if ev.Kind == live.EventOpen && !sent {
				sent = true
				if err := send(sess); err != nil {
					m.fail(KindConnection, PhaseSend, err)
				}
			}
		}
	}
}

func (c *Controller) connect(ctx context.Context, setup live.SessionConfig) (live.Session, error) {
	if c.breaker == nil {
		return c.provider.Connect(ctx, setup)
	}
	var sess live.Session
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		sess, err = c.provider.Connect(ctx, setup)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Controller) record(ctx context.Context, span trace.Span, mode Mode, chunks int, res Result, err error, elapsed time.Duration) {
	c.metrics.RecordAudioChunks(ctx, string(mode), chunks)

	outcome := "complete"
	switch {
	case err != nil:
		outcome = "failed"
		var se *Error
		if errors.As(err, &se) {
			c.metrics.RecordSessionError(ctx, string(se.Kind), string(se.Phase))
			span.SetAttributes(
				attribute.String("error.kind", string(se.Kind)),
				attribute.String("error.phase", string(se.Phase)),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Partial:
		outcome = "partial"
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("audio_chunks", chunks),
	)
	c.metrics.RecordSession(ctx, string(mode), outcome, elapsed.Seconds())
}
