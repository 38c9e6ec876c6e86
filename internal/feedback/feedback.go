// Package feedback turns like/dislike/reset reactions on generated replies
// into training weights and records them.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/store"
)

type Kind string

const (
	Like    Kind = "like"
	Dislike Kind = "dislike"
	Reset   Kind = "reset"
)

var (
	ErrUnknownKind      = errors.New("unknown feedback kind")
	ErrMissingMessageID = errors.New("message_id is required")
)

var weights = map[Kind]float64{
	Like:    2.0,
	Dislike: 0.0,
	Reset:   1.0,
}

// ParseKind is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := weights[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Weight is the training weight for a reaction.
func Weight(k Kind) (float64, error) {
	w, ok := weights[k]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return w, nil
}

type Request struct {
	MessageID string `json:"message_id"`
	Kind      string `json:"type"`
	Style     string `json:"style,omitempty"`
}

// Publisher is satisfied by *hermes.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

type Sink interface {
	AppendFeedback(ctx context.Context, f *store.Feedback) error
}

type Recorder struct {
	sink   Sink
	events Publisher
	logger *slog.Logger
}

// NewRecorder persists to sink and announces on events when it is non-nil.
func NewRecorder(sink Sink, events Publisher, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, events: events, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, req Request) (*store.Feedback, error) {
	if strings.TrimSpace(req.MessageID) == "" {
		return nil, ErrMissingMessageID
	}
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	w, _ := Weight(kind)

	f := &store.Feedback{
		UserID:    userID,
		MessageID: req.MessageID,
		Kind:      string(kind),
		Weight:    w,
		Style:     strings.ToUpper(strings.TrimSpace(req.Style)),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.sink.AppendFeedback(ctx, f); err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	if r.events != nil {
		evt := hermes.FeedbackRecorded{
			UserID:    userID.String(),
			MessageID: f.MessageID,
			Kind:      f.Kind,
			Weight:    f.Weight,
			Style:     f.Style,
			Timestamp: f.CreatedAt,
		}
		if err := r.events.Publish(hermes.SubjectFeedbackRecorded, evt); err != nil {
			r.logger.Warn("event publish failed", "subject", hermes.SubjectFeedbackRecorded, "error", err)
		}
	}
	r.logger.Info("feedback recorded", "message_id", f.MessageID, "kind", f.Kind, "weight", f.Weight)
	return f, nil
}
