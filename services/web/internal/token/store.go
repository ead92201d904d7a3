package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository"
)

// DefaultExpiryMargin treats a token as expired slightly before its exp claim
// so it does not lapse while a request is in flight.
const DefaultExpiryMargin = 5 * time.Second

// Claims are the access token claims the web client reads. Signatures are
// never checked here; the marketplace API remains the authority.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// ParseClaims decodes the claims of a JWT without verifying its signature.
func ParseClaims(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse token claims: %w", err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(d time.Duration) Option {
	return func(s *Store) {
		s.margin = d
	}
}

// Store persists the access and refresh tokens of one browser session.
type Store struct {
	ns      repository.Namespace
	nowFunc func() time.Time
	margin  time.Duration
}

// NewStore creates a token store over a session namespace.
func NewStore(ns repository.Namespace, opts ...Option) *Store {
	s := &Store{
		ns:      ns,
		nowFunc: time.Now,
		margin:  DefaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored access token.
func (s *Store) Get(ctx context.Context) (string, bool, error) {
	v, ok, err := s.ns.Get(ctx, repository.KeyToken)
	if err != nil {
		return "", false, fmt.Errorf("get access token: %w", err)
	}
	return v, ok && v != "", nil
}

// Set stores the access token.
func (s *Store) Set(ctx context.Context, token string) error {
	if err := s.ns.Set(ctx, repository.KeyToken, token); err != nil {
		return fmt.Errorf("set access token: %w", err)
	}
	return nil
}

// Remove deletes the access token only.
func (s *Store) Remove(ctx context.Context) error {
	if err := s.ns.Delete(ctx, repository.KeyToken); err != nil {
		return fmt.Errorf("remove access token: %w", err)
	}
	return nil
}

// IsValid reports whether a stored access token is a well-formed JWT that has
// not expired. Storage failures count as invalid.
func (s *Store) IsValid(ctx context.Context) bool {
	tok, ok, err := s.Get(ctx)
	if err != nil || !ok {
		return false
	}
	return s.Valid(tok)
}

// Valid checks a raw token. A token without an exp claim never expires.
func (s *Store) Valid(raw string) bool {
	claims, err := ParseClaims(raw)
	if err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return s.nowFunc().Add(s.margin).Before(claims.ExpiresAt.Time)
}

// RefreshToken returns the stored refresh token.
func (s *Store) RefreshToken(ctx context.Context) (string, bool, error) {
	v, ok, err := s.ns.Get(ctx, repository.KeyRefreshToken)
	if err != nil {
		return "", false, fmt.Errorf("get refresh token: %w", err)
	}
	return v, ok && v != "", nil
}

// SetRefreshToken stores the refresh token.
func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	if err := s.ns.Set(ctx, repository.KeyRefreshToken, token); err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	return nil
}

// Clear removes the access token, the refresh token and the user snapshot in
// a single delete.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ns.Delete(ctx, repository.SessionKeys()...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
