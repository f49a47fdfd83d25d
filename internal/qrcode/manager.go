package qrcode

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

// Validation failures, in precedence order. Not-found is reported before
// expiry, expiry before invalidation, invalidation before the scan limit,
// and the meeting state is checked last, so a response never ambiguously
// leaks the existence of a dead token.
var (
	ErrTokenNotFound     = errors.New("qr token not found")
	ErrTokenExpired      = errors.New("qr token expired")
	ErrTokenInvalidated  = errors.New("qr token invalidated")
	ErrScanLimitExceeded = errors.New("qr scan limit exceeded")
	ErrMeetingNotActive  = errors.New("meeting is not active")
	ErrMeetingNotFound   = errors.New("meeting not found")
)

// Store is the persistence surface the manager needs.
type Store interface {
	// ReplaceActiveQrCode deactivates any active codes for the meeting and
	// inserts the new one as a single atomic unit.
	ReplaceActiveQrCode(ctx context.Context, code model.QrCode) error
	FindQrCode(ctx context.Context, id string) (*model.QrCode, error)
	FindQrCodeByToken(ctx context.Context, token string) (*model.QrCode, error)
	FindActiveQrCodeForMeeting(ctx context.Context, meetingID string) (*model.QrCode, error)
	// IncrementScanCount atomically bumps the scan count and returns the
	// new value.
	IncrementScanCount(ctx context.Context, id string) (int, error)
	InvalidateQrCode(ctx context.Context, id, adminID string, at time.Time) error
}

// MeetingStore resolves the meeting a token belongs to.
type MeetingStore interface {
	FindMeeting(ctx context.Context, id string) (*model.Meeting, error)
}

// Manager owns the QR code lifecycle: issue, validate, rotate, invalidate.
type Manager struct {
	store      Store
	meetings   MeetingStore
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. defaultTTL applies to issued codes when the
// caller does not pass an explicit TTL; zero means codes never expire.
func NewManager(store Store, meetings MeetingStore, defaultTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		meetings:   meetings,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue rotates the meeting's QR code: the currently active code (if any)
// is deactivated and a fresh one created in its place, atomically. maxScans
// nil means unlimited; ttl zero falls back to the manager default.
func (m *Manager) Issue(ctx context.Context, meetingID string, maxScans *int, ttl time.Duration) (*model.QrCode, error) {
	meeting, err := m.meetings.FindMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, ErrMeetingNotFound
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	if ttl == 0 {
		ttl = m.defaultTTL
	}
	code := model.QrCode{
		ID:        uuid.NewString(),
		MeetingID: meetingID,
		Token:     token,
		MaxScans:  maxScans,
		Active:    true,
		CreatedAt: m.now().UTC(),
	}
	if ttl > 0 {
		expires := code.CreatedAt.Add(ttl)
		code.ExpiresAt = &expires
	}

	if err := m.store.ReplaceActiveQrCode(ctx, code); err != nil {
		return nil, err
	}
	return &code, nil
}

// Validation is the result of a successful token check.
type Validation struct {
	QrCode  *model.QrCode
	Meeting *model.Meeting
}

// Validate checks a presented token and, on success, atomically increments
// its scan count. The scan is recorded on presentation: a check-in that is
// later rejected for other reasons still counts.
func (m *Manager) Validate(ctx context.Context, token string) (*Validation, error) {
	code, err := m.store.FindQrCodeByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrTokenNotFound
	}
	if code.Expired(m.now()) {
		return nil, ErrTokenExpired
	}
	if code.Invalidated() || !code.Active {
		return nil, ErrTokenInvalidated
	}
	if code.ScanLimitReached() {
		return nil, ErrScanLimitExceeded
	}

	meeting, err := m.meetings.FindMeeting(ctx, code.MeetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil || meeting.Status != model.MeetingActive {
		return nil, ErrMeetingNotActive
	}

	count, err := m.store.IncrementScanCount(ctx, code.ID)
	if err != nil {
		return nil, err
	}
	code.ScanCount = count
	// Two presentations can race past the precheck; the atomic increment
	// arbitrates and the loser is rejected here.
	if code.MaxScans != nil && count > *code.MaxScans {
		return nil, ErrScanLimitExceeded
	}

	return &Validation{QrCode: code, Meeting: meeting}, nil
}

// Invalidate retires a code. Invalidating an already-invalidated code is a
// no-op, not an error.
func (m *Manager) Invalidate(ctx context.Context, qrCodeID, adminID string) error {
	code, err := m.store.FindQrCode(ctx, qrCodeID)
	if err != nil {
		return err
	}
	if code == nil {
		return ErrTokenNotFound
	}
	if code.Invalidated() {
		return nil
	}
	return m.store.InvalidateQrCode(ctx, qrCodeID, adminID, m.now().UTC())
}

// newToken returns a cryptographically unguessable opaque token.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate qr token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
