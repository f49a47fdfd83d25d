package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sonta/internal/model"
)

var (
	ErrLinkNotFound = errors.New("magic link not found")
	ErrLinkExpired  = errors.New("magic link expired")
	ErrLinkUsed     = errors.New("magic link already used")
)

// MagicLinkStore persists login tokens. MarkMagicLinkUsed must be
// conditional on the token being unused so concurrent redemptions cannot
// both succeed.
type MagicLinkStore interface {
	InsertMagicLink(ctx context.Context, t model.MagicLinkToken) error
	FindMagicLinkByToken(ctx context.Context, token string) (*model.MagicLinkToken, error)
	MarkMagicLinkUsed(ctx context.Context, id string, at time.Time) error
}

// MagicLinks issues and redeems single-use admin login tokens. Email
// delivery is the caller's concern; the service only manages token state.
type MagicLinks struct {
	store MagicLinkStore
	ttl   time.Duration
	now   func() time.Time
}

// NewMagicLinks creates the service with the configured link lifetime.
func NewMagicLinks(store MagicLinkStore, ttl time.Duration) *MagicLinks {
	return &MagicLinks{store: store, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *MagicLinks) WithClock(now func() time.Time) *MagicLinks {
	m.now = now
	return m
}

// Request creates a fresh login token for an admin email.
func (m *MagicLinks) Request(ctx context.Context, email string) (*model.MagicLinkToken, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate magic link token: %w", err)
	}

	now := m.now().UTC()
	t := model.MagicLinkToken{
		ID:        uuid.NewString(),
		Email:     email,
		Token:     hex.EncodeToString(b),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.store.InsertMagicLink(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Redeem consumes a token exactly once and returns the admin email it was
// issued for.
func (m *MagicLinks) Redeem(ctx context.Context, token string) (string, error) {
	t, err := m.store.FindMagicLinkByToken(ctx, token)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", ErrLinkNotFound
	}
	now := m.now().UTC()
	if now.After(t.ExpiresAt) {
		return "", ErrLinkExpired
	}
	if t.UsedAt != nil {
		return "", ErrLinkUsed
	}
	if err := m.store.MarkMagicLinkUsed(ctx, t.ID, now); err != nil {
		return "", err
	}
	return t.Email, nil
}
