// Package captcha issues short-lived, one-time picture codes and verifies
// them. Each code survives at most three wrong guesses and five minutes.
package captcha

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Alphabet leaves out 0/O and 1/I, which read alike in a noisy image.
	Alphabet           = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	CodeLength         = 4
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 3
)

var (
	ErrNotFound  = errors.New("captcha not found")
	ErrExpired   = errors.New("captcha expired")
	ErrExhausted = errors.New("captcha attempts exhausted")
	ErrMismatch  = errors.New("captcha mismatch")
)

// Entry is a stored challenge. Code is always upper case.
type Entry struct {
	ID          string
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// Store keeps entries. Verify must apply the whole read-check-mutate-delete
// sequence atomically for a given id.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Verify(ctx context.Context, id, input string, now time.Time) error
	Sweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// Challenge is what a client receives. The code itself never leaves the
// server except as pixels.
type Challenge struct {
	ID        string `json:"captcha_id"`
	Image     string `json:"image"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

type Stats struct {
	Active      int `json:"active"`
	Swept       int `json:"swept"`
	TTLSeconds  int `json:"ttl_seconds"`
	MaxAttempts int `json:"max_attempts"`
}

type Gate struct {
	store       Store
	render      Renderer
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	newCode     func() (string, error)
	logger      *slog.Logger
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }
func WithTTL(ttl time.Duration) Option      { return func(g *Gate) { g.ttl = ttl } }
func WithRenderer(r Renderer) Option        { return func(g *Gate) { g.render = r } }

func NewGate(store Store, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:       store,
		render:      NewImageRenderer(),
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		newCode:     randomCode,
		logger:      logger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func randomCode() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("random code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Issue creates a new challenge. Expired entries are swept first.
func (g *Gate) Issue(ctx context.Context) (Challenge, error) {
	now := g.now()
	if n, err := g.store.Sweep(ctx, now); err != nil {
		g.logger.Warn("captcha sweep failed", "error", err)
	} else if n > 0 {
		g.logger.Debug("captcha entries swept", "count", n)
	}

	code, err := g.newCode()
	if err != nil {
		return Challenge{}, err
	}
	image, err := g.render.Render(code)
	if err != nil {
		return Challenge{}, fmt.Errorf("render captcha: %w", err)
	}

	e := Entry{
		ID:          uuid.NewString(),
		Code:        strings.ToUpper(code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
		MaxAttempts: g.maxAttempts,
	}
	if err := g.store.Put(ctx, e); err != nil {
		return Challenge{}, fmt.Errorf("store captcha: %w", err)
	}

	return Challenge{ID: e.ID, Image: image, ExpiresIn: int(g.ttl / time.Second)}, nil
}

// Check verifies input against the challenge and reports why it failed.
// A success consumes the challenge.
func (g *Gate) Check(ctx context.Context, id, input string) error {
	if id == "" {
		return ErrNotFound
	}
	err := g.store.Verify(ctx, id, strings.ToUpper(strings.TrimSpace(input)), g.now())
	switch {
	case err == nil:
		g.logger.Debug("captcha verified", "captcha_id", id)
	case errors.Is(err, ErrMismatch), errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrExpired), errors.Is(err, ErrExhausted):
		g.logger.Info("captcha discarded", "captcha_id", id, "reason", err)
	default:
		g.logger.Error("captcha verify failed", "captcha_id", id, "error", err)
	}
	return err
}

// Verify is Check reduced to a yes/no answer.
func (g *Gate) Verify(ctx context.Context, id, input string) bool {
	return g.Check(ctx, id, input) == nil
}

func (g *Gate) Sweep(ctx context.Context) (int, error) {
	return g.store.Sweep(ctx, g.now())
}

// Stats sweeps, then reports how many challenges are still live.
func (g *Gate) Stats(ctx context.Context) (Stats, error) {
	swept, err := g.Sweep(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("sweep: %w", err)
	}
	n, err := g.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count: %w", err)
	}
	return Stats{
		Active:      n,
		Swept:       swept,
		TTLSeconds:  int(g.ttl / time.Second),
		MaxAttempts: g.maxAttempts,
	}, nil
}

// verifyEntry applies the verification rules to e in place and reports
// whether the entry must be removed. Stores call it under their own lock.
func verifyEntry(e *Entry, input string, now time.Time) (remove bool, err error) {
	if now.After(e.ExpiresAt) {
		return true, ErrExpired
	}
	e.Attempts++
	if e.Attempts > e.MaxAttempts {
		return true, ErrExhausted
	}
	if input == e.Code {
		return true, nil
	}
	return false, ErrMismatch
}
