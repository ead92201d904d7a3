package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository/memory"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/token/tokentest"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, repository.Namespace) {
	t.Helper()
	ns := repository.NewNamespace(memory.NewSessionStore(0), "sid")
	return NewStore(ns, opts...), ns
}

func TestStore_SetGetRemove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "tok1"))
	tok, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok1", tok)

	require.NoError(t, s.Remove(ctx))
	_, ok, err = s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_IsValid(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	assert.False(t, s.IsValid(ctx), "absent token")

	require.NoError(t, s.Set(ctx, "not-a-jwt"))
	assert.False(t, s.IsValid(ctx), "structurally invalid")

	require.NoError(t, s.Set(ctx, tokentest.New(t, "u1", "vendeur", now.Add(time.Minute))))
	assert.True(t, s.IsValid(ctx))

	require.NoError(t, s.Set(ctx, tokentest.New(t, "u1", "vendeur", now.Add(-time.Minute))))
	assert.False(t, s.IsValid(ctx), "present but expired")

	require.NoError(t, s.Set(ctx, tokentest.New(t, "u1", "vendeur", time.Time{})))
	assert.True(t, s.IsValid(ctx), "no exp claim")
}

func TestStore_ExpiryMargin(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := tokentest.New(t, "u1", "acheteur", now.Add(3*time.Second))

	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	assert.False(t, s.Valid(tok), "inside the default margin")

	s, _ = newTestStore(t, WithClock(func() time.Time { return now }), WithExpiryMargin(0))
	assert.True(t, s.Valid(tok))
}

func TestStore_ClockAdvanceFlipsValidity(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, tokentest.New(t, "u1", "admin", now.Add(15*time.Minute))))
	assert.True(t, s.IsValid(ctx))

	now = now.Add(16 * time.Minute)
	assert.False(t, s.IsValid(ctx))
}

func TestStore_RefreshTokenAndClear(t *testing.T) {
	s, ns := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "access"))
	require.NoError(t, s.SetRefreshToken(ctx, "refresh"))
	require.NoError(t, ns.Set(ctx, repository.KeyUser, `{"id":"1"}`))

	rt, ok, err := s.RefreshToken(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "refresh", rt)

	require.NoError(t, s.Clear(ctx))

	for _, k := range repository.SessionKeys() {
		_, ok, err := ns.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should be cleared", k)
	}
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := ParseClaims(tokentest.New(t, "u-42", "livreur", exp))
	require.NoError(t, err)

	assert.Equal(t, "u-42", claims.UserID)
	assert.Equal(t, "livreur", claims.Role)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, exp.Equal(claims.ExpiresAt.Time))

	_, err = ParseClaims("garbage")
	assert.Error(t, err)
}
