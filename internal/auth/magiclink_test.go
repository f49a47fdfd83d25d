package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicLinkRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	svc := NewMagicLinks(NewMemoryMagicLinkStore(), 15*time.Minute).WithClock(func() time.Time { return *clock })
	ctx := context.Background()

	link, err := svc.Request(ctx, "admin@sonta.church")
	require.NoError(t, err)
	assert.NotEmpty(t, link.Token)
	assert.Equal(t, now.Add(15*time.Minute), link.ExpiresAt)

	email, err := svc.Redeem(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin@sonta.church", email)
}

func TestMagicLinkSingleUse(t *testing.T) {
	svc := NewMagicLinks(NewMemoryMagicLinkStore(), 15*time.Minute)
	ctx := context.Background()

	link, err := svc.Request(ctx, "admin@sonta.church")
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, link.Token)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, link.Token)
	assert.ErrorIs(t, err, ErrLinkUsed)
}

func TestMagicLinkExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	svc := NewMagicLinks(NewMemoryMagicLinkStore(), 15*time.Minute).WithClock(func() time.Time { return *clock })
	ctx := context.Background()

	link, err := svc.Request(ctx, "admin@sonta.church")
	require.NoError(t, err)

	*clock = clock.Add(16 * time.Minute)
	_, err = svc.Redeem(ctx, link.Token)
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestMagicLinkUnknownToken(t *testing.T) {
	svc := NewMagicLinks(NewMemoryMagicLinkStore(), 15*time.Minute)
	_, err := svc.Redeem(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestJwtRoundTrip(t *testing.T) {
	pair, err := Issue("admin@sonta.church", "admin", "sonta-attendance", "secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	claims, err := Parse(pair.AccessToken, "secret", "sonta-attendance")
	require.NoError(t, err)
	assert.Equal(t, "admin@sonta.church", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = Parse(pair.AccessToken, "wrong-key", "sonta-attendance")
	assert.Error(t, err)

	_, err = Parse(pair.AccessToken, "secret", "other-issuer")
	assert.Error(t, err)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	pair, err := Issue("admin@sonta.church", "admin", "sonta-attendance", "secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	// The refresh token carries the same claims and exchanges for a new pair.
	claims, err := Parse(pair.RefreshToken, "secret", "sonta-attendance")
	require.NoError(t, err)
	assert.Equal(t, "admin@sonta.church", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))
}

func TestPasswordCheck(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "s3cret"))
}
