package feedback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/store"
)

func TestWeight(t *testing.T) {
	cases := []struct {
		kind Kind
		want float64
	}{
		{Like, 2.0},
		{Dislike, 0.0},
		{Reset, 1.0},
	}
	for _, tc := range cases {
		got, err := Weight(tc.kind)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, string(tc.kind))
	}

	_, err := Weight("love")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" LIKE ")
	require.NoError(t, err)
	assert.Equal(t, Like, k)

	_, err = ParseKind("")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

type sliceSink struct {
	rows []*store.Feedback
	err  error
}

func (s *sliceSink) AppendFeedback(_ context.Context, f *store.Feedback) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, f)
	return nil
}

type captured struct {
	subject string
	data    any
}

type recPublisher struct{ got []captured }

func (p *recPublisher) Publish(subject string, data any) error {
	p.got = append(p.got, captured{subject, data})
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRecorder_Record(t *testing.T) {
	sink := &sliceSink{}
	pub := &recPublisher{}
	r := NewRecorder(sink, pub, discardLogger())
	user := uuid.New()

	f, err := r.Record(context.Background(), user, Request{MessageID: "m-1", Kind: "Dislike", Style: "genki"})
	require.NoError(t, err)
	assert.Equal(t, "dislike", f.Kind)
	assert.Equal(t, 0.0, f.Weight)
	assert.Equal(t, "GENKI", f.Style)
	require.Len(t, sink.rows, 1)

	require.Len(t, pub.got, 1)
	assert.Equal(t, hermes.SubjectFeedbackRecorded, pub.got[0].subject)
	evt, ok := pub.got[0].data.(hermes.FeedbackRecorded)
	require.True(t, ok)
	assert.Equal(t, user.String(), evt.UserID)
	assert.Equal(t, "m-1", evt.MessageID)
}

func TestRecorder_Rejects(t *testing.T) {
	sink := &sliceSink{}
	r := NewRecorder(sink, nil, discardLogger())

	_, err := r.Record(context.Background(), uuid.New(), Request{MessageID: "m-1", Kind: "meh"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = r.Record(context.Background(), uuid.New(), Request{Kind: "like"})
	assert.ErrorIs(t, err, ErrMissingMessageID)
	assert.Empty(t, sink.rows)
}

func TestRecorder_SinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	r := NewRecorder(&sliceSink{err: boom}, nil, discardLogger())
	_, err := r.Record(context.Background(), uuid.New(), Request{MessageID: "m", Kind: "reset"})
	assert.ErrorIs(t, err, boom)
}
