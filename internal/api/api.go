// Package api exposes the practice operations over HTTP.
//
//	POST /v1/practice/greeting    {"drill_id"|"drill"}
//	POST /v1/practice/turn        {"drill_id"|"drill", "message", "history"}
//	POST /v1/practice/transcribe  raw audio, Content-Type names the format
//
// Failures are returned as {"error":{"type","message","phase","retryable"}}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/speakdrill/internal/drill"
	"github.com/MrWong99/speakdrill/internal/livesession"
	"github.com/MrWong99/speakdrill/internal/practice"
	"github.com/MrWong99/speakdrill/pkg/provider/live"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// Practice is the set of operations the handler serves.
// *[practice.Service] satisfies it.
type Practice interface {
	GenerateDialogueTurn(ctx context.Context, d *drill.Drill, userMessage string, history []live.Turn) (livesession.Result, error)
	GenerateGreeting(ctx context.Context, d *drill.Drill) livesession.Result
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

var _ Practice = (*practice.Service)(nil)

// Handler serves the practice API.
type Handler struct {
	svc     Practice
	drills  drill.Store
	maxBody int64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMaxBodyBytes caps request bodies. Non-positive values keep the default.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// New returns a Handler that resolves drill ids through drills. A nil store
// accepts inline drills only.
func New(svc Practice, drills drill.Store, opts ...Option) *Handler {
	if drills == nil {
		drills = drill.NewMemoryStore()
	}
	h := &Handler{svc: svc, drills: drills, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/practice/greeting", h.greeting)
	mux.HandleFunc("POST /v1/practice/turn", h.turn)
	mux.HandleFunc("POST /v1/practice/transcribe", h.transcribe)
}

// drillRef names a stored drill or carries one inline. Exactly one must be
// set.
type drillRef struct {
	DrillID string       `json:"drill_id,omitempty"`
	Drill   *drill.Drill `json:"drill,omitempty"`
}

type greetingRequest struct {
	drillRef
}

type turnRequest struct {
	drillRef
	Message string      `json:"message"`
	History []live.Turn `json:"history,omitempty"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (h *Handler) greeting(w http.ResponseWriter, r *http.Request) {
	var req greetingRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.resolve(r.Context(), req.drillRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.GenerateGreeting(r.Context(), d))
}

func (h *Handler) turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.resolve(r.Context(), req.drillRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.GenerateDialogueTurn(r.Context(), d, req.Message, req.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) transcribe(w http.ResponseWriter, r *http.Request) {
	mimeType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if mimeType == "" {
		writeError(w, r, badRequest("Content-Type must name the audio format"))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := h.svc.Transcribe(r.Context(), data, mimeType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func (h *Handler) resolve(ctx context.Context, ref drillRef) (*drill.Drill, error) {
	switch {
	case ref.DrillID != "" && ref.Drill != nil:
		return nil, badRequest("set either drill_id or drill, not both")
	case ref.Drill != nil:
		if err := ref.Drill.Validate(); err != nil {
			return nil, badRequest(err.Error())
		}
		return ref.Drill, nil
	case ref.DrillID != "":
		d, err := h.drills.Get(ctx, ref.DrillID)
		if err != nil {
			return nil, fmt.Errorf("api: drill %q: %w", ref.DrillID, err)
		}
		return d, nil
	default:
		return nil, badRequest("drill_id or drill is required")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
