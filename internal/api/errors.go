package api

import (
	"errors"
	"net/http"

	"github.com/MrWong99/speakdrill/internal/drill"
	"github.com/MrWong99/speakdrill/internal/livesession"
	"github.com/MrWong99/speakdrill/internal/observe"
	"github.com/MrWong99/speakdrill/internal/practice"
	"github.com/MrWong99/speakdrill/internal/resilience"
	"github.com/MrWong99/speakdrill/pkg/audio"
)

// StatusClientClosedRequest is returned when the caller went away before the
// session finished. Nobody reads it, but it keeps access logs and metrics
// apart from server failures.
const StatusClientClosedRequest = 499

// Error types reported in the envelope besides the livesession kinds.
const (
	TypeInvalidRequest  = "invalid_request"
	TypeNotFound        = "not_found"
	TypeRequestTooLarge = "request_too_large"
	TypeUnavailable     = "unavailable"
	TypeInternal        = "internal"
)

// APIError is the body of a failed request.
type APIError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Phase     string `json:"phase,omitempty"`
	Retryable bool   `json:"retryable"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// classify maps err to a status code and envelope.
func classify(err error) (int, APIError) {
	var (
		reqErr   *requestError
		tooLarge *http.MaxBytesError
		sessErr  *livesession.Error
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, APIError{Type: TypeRequestTooLarge, Message: err.Error()}
	case errors.As(err, &reqErr),
		errors.Is(err, practice.ErrEmptyMessage),
		errors.Is(err, practice.ErrEmptyAudio),
		errors.Is(err, practice.ErrBadHistory),
		errors.Is(err, audio.ErrNotWAV):
		return http.StatusBadRequest, APIError{Type: TypeInvalidRequest, Message: err.Error()}
	case errors.Is(err, drill.ErrNotFound):
		return http.StatusNotFound, APIError{Type: TypeNotFound, Message: err.Error()}
	case errors.As(err, &sessErr):
		return classifySession(sessErr)
	default:
		return http.StatusInternalServerError, APIError{Type: TypeInternal, Message: "internal error"}
	}
}

func classifySession(e *livesession.Error) (int, APIError) {
	body := APIError{
		Type:      string(e.Kind),
		Message:   e.Error(),
		Phase:     string(e.Phase),
		Retryable: e.Retryable(),
	}
	switch e.Kind {
	case livesession.KindConnection:
		if errors.Is(e, resilience.ErrCircuitOpen) {
			body.Type = TypeUnavailable
			return http.StatusServiceUnavailable, body
		}
		return http.StatusBadGateway, body
	case livesession.KindRemote, livesession.KindEmptySession:
		return http.StatusBadGateway, body
	case livesession.KindTimeout:
		return http.StatusGatewayTimeout, body
	case livesession.KindResponseTooLarge:
		return http.StatusRequestEntityTooLarge, body
	case livesession.KindCanceled:
		return StatusClientClosedRequest, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}
