// Package llm talks to text and vision generation backends and wraps every
// call in a bounded parse-and-retry loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedOutput means the model reply was not parseable JSON.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrSchemaViolation means the reply parsed but broke a field rule.
	ErrSchemaViolation = errors.New("model output violates schema")
	// ErrTransient covers network failures, timeouts, 429 and 5xx.
	ErrTransient = errors.New("transient provider error")
	// ErrInvariantViolation is a caller bug. Never retried.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Image is an inline picture sent alongside the prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the backend for a JSON-only reply when it supports that.
	JSON  bool
	Image *Image
}

// Provider is a single generation backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// APIError is an error reported by a provider, usually as a non-2xx reply.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s api error %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap makes rate limits and server errors match ErrTransient.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return ErrTransient
	}
	return nil
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvariantViolation) {
		return false
	}
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrMalformedOutput) ||
		errors.Is(err, ErrSchemaViolation)
}

// transportError classifies an http.Client.Do failure. A cancelled caller
// context is reported as-is; everything else (dial errors, client timeouts)
// is transient.
func transportError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("%s call: %w", provider, ctxErr)
	}
	return fmt.Errorf("%s call: %w: %w", provider, ErrTransient, err)
}
