// Package auth registers and logs in accounts behind the captcha gate and
// issues signed access tokens.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MikeSquared-Agency/parley/internal/store"
)

const (
	TokenTTL         = 24 * time.Hour
	RememberTokenTTL = 7 * 24 * time.Hour

	tokenType = "parley_access"
	issuer    = "parley"
)

var (
	ErrUserExists         = errors.New("account already registered")
	ErrInvalidCredentials = errors.New("invalid account or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidInput       = errors.New("invalid input")
)

// CaptchaChecker is satisfied by *captcha.Gate.
type CaptchaChecker interface {
	Check(ctx context.Context, id, input string) error
}

// Users is the slice of store.Repository the service needs.
type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetUserByAccount(ctx context.Context, account string) (*store.User, error)
	PutUser(ctx context.Context, u *store.User) error
}

type Claims struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

type RegisterRequest struct {
	Account     string `json:"account"`
	Password    string `json:"password"`
	Username    string `json:"username,omitempty"`
	CaptchaID   string `json:"captcha_id"`
	CaptchaCode string `json:"captcha_code"`
}

type LoginRequest struct {
	Account     string `json:"account"`
	Password    string `json:"password"`
	RememberMe  bool   `json:"remember_me"`
	CaptchaID   string `json:"captcha_id"`
	CaptchaCode string `json:"captcha_code"`
}

type UserInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Account   string    `json:"account"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	User        UserInfo `json:"user_info"`
}

type Service struct {
	users   Users
	captcha CaptchaChecker
	secret  []byte
	cost    int
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.cost = cost } }

func NewService(users Users, captcha CaptchaChecker, secret string, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		users:   users,
		captcha: captcha,
		secret:  []byte(secret),
		cost:    bcrypt.DefaultCost,
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register consumes the captcha before touching the account table, so a
// failed registration still burns the code.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	if err := s.captcha.Check(ctx, req.CaptchaID, req.CaptchaCode); err != nil {
		return nil, err
	}

	account := strings.TrimSpace(req.Account)
	if err := validateCredentials(account, req.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = randomUsername()
	}

	u := &store.User{
		Account:      account,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.PutUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("store user: %w", err)
	}

	s.logger.Info("account registered", "user_id", u.ID, "username", u.Username)
	return s.issue(u, TokenTTL)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	if err := s.captcha.Check(ctx, req.CaptchaID, req.CaptchaCode); err != nil {
		return nil, err
	}

	u, err := s.users.GetUserByAccount(ctx, strings.TrimSpace(req.Account))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ttl := TokenTTL
	if req.RememberMe {
		ttl = RememberTokenTTL
	}
	s.logger.Info("account logged in", "user_id", u.ID, "remember_me", req.RememberMe)
	return s.issue(u, ttl)
}

// ParseToken verifies signature, expiry and token type and returns the
// user id the token was issued to.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != tokenType {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

// Me returns the profile behind a parsed token.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*UserInfo, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	info := userInfo(u)
	return &info, nil
}

func (s *Service) issue(u *store.User, ttl time.Duration) (*TokenResponse, error) {
	now := s.now()
	claims := &Claims{
		UserID: u.ID.String(),
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(ttl.Seconds()),
		User:        userInfo(u),
	}, nil
}

func validateCredentials(account, password string) error {
	if n := utf8.RuneCountInString(account); n < 3 || n > 64 {
		return fmt.Errorf("%w: account must be 3-64 characters", ErrInvalidInput)
	}
	// bcrypt ignores everything past 72 bytes.
	if len(password) < 6 || len(password) > 72 {
		return fmt.Errorf("%w: password must be 6-72 bytes", ErrInvalidInput)
	}
	return nil
}

func userInfo(u *store.User) UserInfo {
	return UserInfo{
		ID:        u.ID.String(),
		Username:  u.Username,
		Account:   MaskAccount(u.Account),
		CreatedAt: u.CreatedAt,
	}
}

// MaskAccount hides the middle of a phone number or the local part of an
// email address. Short accounts are returned as-is.
func MaskAccount(account string) string {
	if at := strings.IndexByte(account, '@'); at > 0 {
		local := []rune(account[:at])
		if len(local) <= 3 {
			return string(local[:1]) + "***" + account[at:]
		}
		return string(local[:3]) + "***" + account[at:]
	}
	r := []rune(account)
	if len(r) < 8 {
		return account
	}
	return string(r[:3]) + "****" + string(r[len(r)-4:])
}

var usernamePrefixes = []string{
	"指挥官", "探索者", "旅行者", "冒险家", "先锋者",
	"学者", "魔法使", "剑士", "弓手", "法师",
	"星光", "银河", "彗星", "流星", "恒星",
}

func randomUsername() string {
	prefix := usernamePrefixes[randIntn(len(usernamePrefixes))]
	return fmt.Sprintf("%s%04d", prefix, randIntn(10000))
}

func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
