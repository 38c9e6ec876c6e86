package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *SQLiteStore) countRows(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

func seedUser(t *testing.T, s Repository, account string) *User {
	t.Helper()
	u := &User{Account: account, Username: "tester", PasswordHash: "$2a$10$hash"}
	require.NoError(t, s.PutUser(context.Background(), u))
	return u
}

func TestSQLite_Users(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	u := seedUser(t, s, "alice@example.com")
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	byID, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Account)
	assert.Equal(t, "$2a$10$hash", byID.PasswordHash)
	assert.Equal(t, u.CreatedAt.UnixMilli(), byID.CreatedAt.UnixMilli())

	byAccount, err := s.GetUserByAccount(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byAccount.ID)

	err = s.PutUser(ctx, &User{Account: "alice@example.com", Username: "dup", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUserByAccount(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SessionsAndMessages(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	u := seedUser(t, s, "bob")

	sess := &Session{UserID: u.ID, Title: "first"}
	require.NoError(t, s.PutSession(ctx, sess))

	sess.Title = "renamed"
	sess.UpdatedAt = sess.CreatedAt.Add(time.Minute)
	require.NoError(t, s.PutSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, u.ID, got.UserID)

	contents := []string{"在吗", "嗯", "你今天怎么不理我", "我在忙", "哼"}
	for i, c := range contents {
		role := "other"
		if i%2 == 1 {
			role = "advisor"
		}
		require.NoError(t, s.AppendMessage(ctx, &Message{SessionID: sess.ID, Role: role, Content: c}))
	}

	recent, err := s.RecentMessages(ctx, sess.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "你今天怎么不理我", recent[0].Content)
	assert.Equal(t, "哼", recent[2].Content)
	assert.Equal(t, "other", recent[2].Role)

	all, err := s.RecentMessages(ctx, sess.ID, 32)
	require.NoError(t, err)
	assert.Len(t, all, len(contents))

	none, err := s.RecentMessages(ctx, uuid.New(), 32)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_FeedbackAndSelections(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, s.AppendFeedback(ctx, &Feedback{UserID: userID, MessageID: "m1", Kind: "like", Weight: 2, Style: "TSUNDERE"}))
	require.NoError(t, s.AppendFeedback(ctx, &Feedback{UserID: userID, MessageID: "m1", Kind: "reset", Weight: 1}))
	require.NoError(t, s.AppendSelection(ctx, &Selection{UserID: userID, SessionID: uuid.New(), Strategy: "TEASE", Style: "GENKI", Text: "好啦好啦"}))

	n, err := s.countRows(ctx, "feedback")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.countRows(ctx, "selections")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")
	ctx := context.Background()

	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	u := seedUser(t, s, "carol")
	require.NoError(t, s.Close())

	s, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetUserByAccount(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestOpen_Scheme(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())

	_, err = Open(ctx, "mysql://localhost/parley")
	assert.ErrorContains(t, err, `"mysql"`)

	_, err = Open(ctx, "sqlite://")
	assert.Error(t, err)
}
