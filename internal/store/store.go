// Package store persists accounts, conversation sessions and the
// selection/feedback trail.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: already exists")
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Account      string    `json:"account"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session groups the messages of one conversation a user is being advised on.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Selection records which generated option the user actually sent.
type Selection struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`
	Strategy  string    `json:"strategy"`
	Style     string    `json:"style"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Feedback struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	Weight    float64   `json:"weight"`
	Style     string    `json:"style,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository is implemented by the Postgres and SQLite backends.
type Repository interface {
	// GetUser returns ErrNotFound when no user has the id.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByAccount returns ErrNotFound when the account is unknown.
	GetUserByAccount(ctx context.Context, account string) (*User, error)

	// PutUser inserts a new user. A taken account yields ErrConflict.
	PutUser(ctx context.Context, u *User) error

	// PutSession creates the session or refreshes its title and updated_at.
	PutSession(ctx context.Context, s *Session) error

	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)

	AppendMessage(ctx context.Context, m *Message) error

	// RecentMessages returns at most limit messages of a session, oldest first.
	RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error)

	AppendFeedback(ctx context.Context, f *Feedback) error
	AppendSelection(ctx context.Context, s *Selection) error

	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the URL scheme: postgres:// or postgresql://
// for Postgres, sqlite://<path> for a local SQLite file.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		s, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		s, err := NewSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", schemeOf(databaseURL))
	}
}

func schemeOf(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i]
	}
	return ""
}

// stamp fills in the id and creation time the caller left empty.
func stamp(id *uuid.UUID, created *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if created.IsZero() {
		*created = time.Now().UTC()
	}
}
