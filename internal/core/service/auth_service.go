package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrRateLimited        = errors.New("too many requests")
)

const (
	loginRateKeyPrefix = "rate_limit:login:"
	maxUsernameLen     = 100
)

// unknownUserHash is compared against when the username does not exist.
var unknownUserHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("unknown-user-placeholder"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})

type AuthConfig struct {
	Secret     []byte
	TokenTTL   time.Duration
	RateLimit  int64 // attempts per window; 0 disables
	RateWindow time.Duration
}

type AuthService struct {
	store port.LedgerStore
	cache port.CacheRepository
	cfg   AuthConfig
	now   func() time.Time
}

// NewAuthService issues and checks HS256 tokens. cache may be nil, which
// disables login rate limiting.
func NewAuthService(store port.LedgerStore, cache port.CacheRepository, cfg AuthConfig) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &AuthService{store: store, cache: cache, cfg: cfg, now: time.Now}
}

// Login checks the password and returns a signed token. clientKey scopes
// the rate limit, usually the caller's address.
func (s *AuthService) Login(ctx context.Context, clientKey, username, password string) (string, error) {
	if s.cache != nil && s.cfg.RateLimit > 0 {
		count, err := s.cache.IncrementRate(ctx, loginRateKeyPrefix+clientKey, s.cfg.RateWindow)
		if err != nil {
			return "", fmt.Errorf("rate limit check failed: %w", err)
		}
		if count > s.cfg.RateLimit {
			return "", ErrRateLimited
		}
	}

	user, err := s.store.GetUser(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrUserNotFound) {
		// Unknown and known users cost the same bcrypt work.
		bcrypt.CompareHashAndPassword(unknownUserHash(), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify returns the username carried by a valid token.
func (s *AuthService) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *AuthService) CreateUser(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.NewValidationError("username", "is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return domain.NewValidationError("username", "must be at most 100 characters")
	}
	if len(password) < 6 {
		return domain.NewValidationError("password", "must be at least 6 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.CreateUser(ctx, domain.User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
