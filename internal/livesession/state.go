package livesession

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/speakdrill/pkg/audio"
	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// State is the lifecycle state of a single live session.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateOpen
	StateStreaming
	StateComplete
	StateFailed
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is COMPLETE or FAILED.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// accumulator collects the partial output of one session. It is owned by a
// single machine and only touched with the machine's mutex held.
type accumulator struct {
	audioChunks   []string
	reasoning     strings.Builder
	transcription strings.Builder
}

// audioFormat describes the PCM the remote side emits.
type audioFormat struct {
	sampleRate    int
	channels      int
	bitsPerSample int
}

// machine is the per-session state machine. Every trigger (turn complete,
// error, close, deadline, cancellation) funnels into settle, which only acts
// on the first call: it records the outcome, closes the transport once and
// releases waiters.
type machine struct {
	id        string
	mode      Mode
	format    audioFormat
	maxChunks int
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	acc    accumulator
	closer func() error
	result Result
	err    error

	done chan struct{}
}

func newMachine(id string, mode Mode, format audioFormat, maxChunks int, logger *slog.Logger) *machine {
	return &machine{
		id:        id,
		mode:      mode,
		format:    format,
		maxChunks: maxChunks,
		logger:    logger,
		state:     StateInit,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed once the session has settled.
func (m *machine) Done() <-chan struct{} { return m.done }

// Outcome returns the settled result. It must only be called after Done is
// closed.
func (m *machine) Outcome() (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

// chunkCount returns the number of audio chunks accumulated so far.
func (m *machine) chunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acc.audioChunks)
}

func (m *machine) connecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateInit {
		m.state = StateConnecting
	}
}

// attach hands the transport's close function to the machine. If the session
// already settled, the transport is closed immediately.
func (m *machine) attach(closer func() error) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		m.closeTransport(closer)
		return
	}
	m.closer = closer
	m.mu.Unlock()
}

// handle dispatches one transport event.
func (m *machine) handle(ev live.Event) {
	switch ev.Kind {
	case live.EventOpen:
		m.onOpen()
	case live.EventMessage:
		if ev.Message != nil {
			m.onMessage(ev.Message)
		}
	case live.EventError:
		m.onError(ev.Err)
	case live.EventClose:
		info := live.CloseInfo{Code: -1}
		if ev.Close != nil {
			info = *ev.Close
		}
		m.onClose(info)
	}
}

func (m *machine) onOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnecting || m.state == StateInit {
		m.state = StateOpen
		m.logger.Debug("live session open")
	}
}

func (m *machine) onMessage(msg *live.ServerMessage) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = StateStreaming

	if m.mode.listensToOutput() {
		m.acc.audioChunks = append(m.acc.audioChunks, msg.AudioChunks...)
		m.acc.transcription.WriteString(msg.OutputTranscription)
	} else {
		m.acc.transcription.WriteString(msg.InputTranscription)
	}
	for _, p := range msg.Parts {
		m.acc.reasoning.WriteString(p.Text)
	}

	if m.maxChunks > 0 && len(m.acc.audioChunks) > m.maxChunks {
		n := len(m.acc.audioChunks)
		m.mu.Unlock()
		m.settleErr(newError(KindResponseTooLarge, PhaseStream, m.id,
			fmt.Errorf("%d audio chunks exceed the limit of %d", n, m.maxChunks)))
		return
	}

	if !msg.TurnComplete {
		m.mu.Unlock()
		return
	}
	res, err := m.buildLocked()
	m.mu.Unlock()
	m.settle(res, err, false, PhaseStream)
}

// onError fails the session. Before the server acknowledged the setup the
// failure belongs to the connect phase.
func (m *machine) onError(err error) {
	if err == nil {
		err = fmt.Errorf("unknown stream error")
	}
	m.mu.Lock()
	opening := m.openingLocked()
	m.mu.Unlock()
	if opening {
		m.settleErr(newError(KindConnection, PhaseConnect, m.id, err))
		return
	}
	m.settleErr(newError(KindRemote, PhaseStream, m.id, err))
}

// onClose handles the end of the stream. Content gathered before the close is
// returned best-effort; a close with nothing to show is an empty session.
func (m *machine) onClose(info live.CloseInfo) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	if !m.hasContentLocked() {
		opening := m.openingLocked()
		m.mu.Unlock()
		cause := fmt.Errorf("stream closed (code %d)", info.Code)
		if info.Reason != "" {
			cause = fmt.Errorf("stream closed (code %d): %s", info.Code, info.Reason)
		}
		if opening {
			m.settleErr(newError(KindConnection, PhaseConnect, m.id, cause))
			return
		}
		m.settleErr(newError(KindEmptySession, PhaseClose, m.id, cause))
		return
	}
	res, err := m.buildLocked()
	m.mu.Unlock()
	m.settle(res, err, true, PhaseClose)
}

// onTimeout resolves with whatever has been accumulated, or fails when there
// is nothing usable.
func (m *machine) onTimeout() {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	if !m.hasContentLocked() {
		m.mu.Unlock()
		m.settleErr(newError(KindTimeout, PhaseTimeout, m.id, nil))
		return
	}
	res, err := m.buildLocked()
	m.mu.Unlock()
	m.settle(res, err, true, PhaseTimeout)
}

func (m *machine) onCancel(cause error) {
	m.settleErr(newError(KindCanceled, PhaseCancel, m.id, cause))
}

// fail settles the session with a failure raised by the controller itself
// (connect or send errors).
func (m *machine) fail(kind Kind, phase Phase, cause error) {
	m.settleErr(newError(kind, phase, m.id, cause))
}

func (m *machine) settleErr(err *Error) {
	m.settle(Result{}, err, false, err.Phase)
}

// settle records the outcome on the first call and is a no-op afterwards.
// The transport is closed exactly once, outside the lock.
func (m *machine) settle(res Result, err error, partial bool, phase Phase) bool {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return false
	}
	if err != nil {
		m.state = StateFailed
		m.err = err
	} else {
		m.state = StateComplete
		res.Partial = partial
		m.result = res
	}
	closer := m.closer
	m.closer = nil
	reasoning := m.acc.reasoning.Len()
	chunks := len(m.acc.audioChunks)
	m.mu.Unlock()

	m.closeTransport(closer)

	if err != nil {
		m.logger.Warn("live session failed", "phase", phase, "err", err, "audio_chunks", chunks)
	} else {
		m.logger.Info("live session settled",
			"phase", phase,
			"partial", partial,
			"audio_chunks", chunks,
			"reasoning_chars", reasoning,
		)
	}
	close(m.done)
	return true
}

func (m *machine) closeTransport(closer func() error) {
	if closer == nil {
		return
	}
	if err := closer(); err != nil {
		m.logger.Debug("live session close error", "err", err)
	}
}

// openingLocked reports whether the setup has not been acknowledged yet.
func (m *machine) openingLocked() bool {
	return m.state == StateInit || m.state == StateConnecting
}

// hasContentLocked reports whether anything user-facing was accumulated.
// Reasoning text does not count: it is never returned to callers.
func (m *machine) hasContentLocked() bool {
	if m.mode.listensToOutput() && len(m.acc.audioChunks) > 0 {
		return true
	}
	return strings.TrimSpace(m.acc.transcription.String()) != ""
}

// buildLocked turns the accumulator into a Result for the machine's mode.
func (m *machine) buildLocked() (Result, error) {
	if !m.hasContentLocked() {
		return Result{}, newError(KindEmptySession, PhaseStream, m.id, fmt.Errorf("turn completed without content"))
	}

	if r := m.acc.reasoning.String(); r != "" {
		m.logger.Debug("discarding model-turn text", "reasoning", r)
	}

	if !m.mode.listensToOutput() {
		return Result{Text: strings.TrimSpace(m.acc.transcription.String())}, nil
	}

	res := Result{Text: SelectAuthoritativeText(m.acc.transcription.String(), m.acc.reasoning.String())}
	if len(m.acc.audioChunks) == 0 {
		return res, nil
	}
	pcm, err := audio.CombineChunks(m.acc.audioChunks)
	if err != nil {
		return Result{}, newError(KindRemote, PhaseStream, m.id, err)
	}
	wav, err := audio.EncodeWAV(pcm, m.format.sampleRate, m.format.channels, m.format.bitsPerSample)
	if err != nil {
		return Result{}, newError(KindRemote, PhaseStream, m.id, err)
	}
	res.AudioBase64 = wav
	res.AudioMIMEType = audio.MIMETypeWAV
	return res, nil
}
