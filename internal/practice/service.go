// Package practice implements the three spoken-practice operations on top of
// live sessions: a drill dialogue turn, the opening greeting and speech
// transcription.
package practice

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/MrWong99/speakdrill/internal/drill"
	"github.com/MrWong99/speakdrill/internal/livesession"
	"github.com/MrWong99/speakdrill/internal/observe"
	"github.com/MrWong99/speakdrill/pkg/audio"
	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// Input validation errors. They are returned before any session is opened.
var (
	ErrEmptyMessage = errors.New("practice: message is empty")
	ErrEmptyAudio   = errors.New("practice: audio is empty")
	ErrBadHistory   = errors.New("practice: invalid history")
)

// Runner opens live sessions. *[livesession.Controller] satisfies it.
type Runner interface {
	RunSession(ctx context.Context, systemInstruction string, turns []live.Turn, voice string) (livesession.Result, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

var _ Runner = (*livesession.Controller)(nil)

// Config tunes a [Service].
type Config struct {
	// Voice overrides the runner's default voice. Empty keeps it.
	Voice string

	// MaxHistoryTurns keeps only the most recent turns of the history sent
	// with each exchange. Zero keeps everything.
	MaxHistoryTurns int
}

// Service is safe for concurrent use.
type Service struct {
	runner Runner
	cfg    Config
}

// NewService returns a Service that runs sessions through r.
func NewService(r Runner, cfg Config) *Service {
	return &Service{runner: r, cfg: cfg}
}

// GenerateDialogueTurn answers userMessage within drill d, given the prior
// history. Session failures are returned unchanged as *[livesession.Error].
func (s *Service) GenerateDialogueTurn(ctx context.Context, d *drill.Drill, userMessage string, history []live.Turn) (livesession.Result, error) {
	msg := strings.TrimSpace(userMessage)
	if msg == "" {
		return livesession.Result{}, ErrEmptyMessage
	}
	for i, t := range history {
		if !t.Role.IsValid() {
			return livesession.Result{}, fmt.Errorf("%w: turn %d has role %q", ErrBadHistory, i, t.Role)
		}
		if strings.TrimSpace(t.Content) == "" {
			return livesession.Result{}, fmt.Errorf("%w: turn %d has empty content", ErrBadHistory, i)
		}
	}
	if n := s.cfg.MaxHistoryTurns; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	turns := make([]live.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, live.Turn{Role: live.RoleUser, Content: msg})

	return s.runner.RunSession(ctx, DialoguePrompt(d), turns, s.cfg.Voice)
}

// GenerateGreeting produces the tutor's opening turn for d. It never fails:
// when the session does, the result carries [FallbackGreeting] and no audio.
func (s *Service) GenerateGreeting(ctx context.Context, d *drill.Drill) livesession.Result {
	turns := []live.Turn{{Role: live.RoleUser, Content: StartTurn}}
	res, err := s.runner.RunSession(ctx, GreetingPrompt(d), turns, s.cfg.Voice)
	if err != nil {
		var drillID string
		if d != nil {
			drillID = d.ID
		}
		observe.Logger(ctx).Warn("greeting session failed, using fallback",
			"drill_id", drillID,
			"err", err,
		)
		return livesession.Result{Text: FallbackGreeting(d)}
	}
	return res
}

// Transcribe returns the transcript of the given recording. WAV uploads are
// decoded and normalised to 16 kHz mono PCM first; other formats are passed
// through as-is.
func (s *Service) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}
	if isWAV(mimeType) {
		pcm, f, err := audio.DecodeWAV(data)
		if err != nil {
			return "", fmt.Errorf("practice: %w", err)
		}
		if len(pcm) == 0 {
			return "", ErrEmptyAudio
		}
		data = audio.NormalizeForLive(pcm, f)
		mimeType = fmt.Sprintf("audio/pcm;rate=%d", audio.LiveInputRate)
	}
	return s.runner.Transcribe(ctx, data, mimeType)
}

func isWAV(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	switch mt {
	case audio.MIMETypeWAV, "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}
