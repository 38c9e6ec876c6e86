package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MikeSquared-Agency/parley/internal/auth"
	"github.com/MikeSquared-Agency/parley/internal/captcha"
	"github.com/MikeSquared-Agency/parley/internal/feedback"
	"github.com/MikeSquared-Agency/parley/internal/llm"
	"github.com/MikeSquared-Agency/parley/internal/store"
	"github.com/MikeSquared-Agency/parley/internal/tactics"
)

const (
	maxBodyBytes  = 1 << 20
	maxImageBytes = 12 << 20
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

var captchaCodes = []struct {
	err  error
	code string
}{
	{captcha.ErrExpired, "captcha_expired"},
	{captcha.ErrMismatch, "captcha_mismatch"},
	{captcha.ErrExhausted, "captcha_exhausted"},
	{captcha.ErrNotFound, "captcha_not_found"},
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a bare 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, c := range captchaCodes {
		if errors.Is(err, c.err) {
			JSON(w, http.StatusBadRequest, errorBody{Error: c.err.Error(), Code: c.code})
			return
		}
	}

	switch {
	case errors.Is(err, llm.ErrInvariantViolation),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, feedback.ErrUnknownKind),
		errors.Is(err, feedback.ErrMissingMessageID):
		JSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_request"})
	case errors.Is(err, tactics.ErrGenerationFailed):
		JSON(w, http.StatusBadGateway, errorBody{Error: "reply generation failed, try again", Code: "generation_failed", Retryable: true})
	case errors.Is(err, auth.ErrInvalidCredentials):
		JSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "invalid_credentials"})
	case errors.Is(err, auth.ErrInvalidToken):
		JSON(w, http.StatusUnauthorized, errorBody{Error: auth.ErrInvalidToken.Error(), Code: "invalid_token"})
	case errors.Is(err, auth.ErrUserExists):
		JSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "user_exists"})
	case errors.Is(err, store.ErrNotFound):
		JSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		JSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decode reads a JSON body of at most limit bytes into v.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", llm.ErrInvariantViolation)
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: body exceeds %d bytes", llm.ErrInvariantViolation, tooBig.Limit)
		}
		return fmt.Errorf("%w: invalid JSON: %v", llm.ErrInvariantViolation, err)
	}
	return nil
}
