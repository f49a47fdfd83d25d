package qrcode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonta/internal/model"
)

type meetingStub struct {
	meetings map[string]*model.Meeting
}

func (s *meetingStub) FindMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	return s.meetings[id], nil
}

func newFixture(t *testing.T) (*Manager, *MemoryStore, *meetingStub, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	store := NewMemoryStore()
	meetings := &meetingStub{meetings: map[string]*model.Meeting{
		"m1": {ID: "m1", Title: "Sunday Service", Status: model.MeetingActive},
	}}
	mgr := NewManager(store, meetings, 0, WithClock(func() time.Time { return *clock }))
	return mgr, store, meetings, clock
}

func TestIssueRotatesActiveToken(t *testing.T) {
	mgr, store, _, _ := newFixture(t)
	ctx := context.Background()

	first, err := mgr.Issue(ctx, "m1", nil, 0)
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.NotEmpty(t, first.Token)
	assert.Nil(t, first.ExpiresAt)

	second, err := mgr.Issue(ctx, "m1", nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, 1, store.ActiveCount("m1"))

	active, err := store.FindActiveQrCodeForMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	// The rotated-out token no longer validates.
	_, err = mgr.Validate(ctx, first.Token)
	assert.ErrorIs(t, err, ErrTokenInvalidated)
}

func TestIssueUnknownMeeting(t *testing.T) {
	mgr, _, _, _ := newFixture(t)
	_, err := mgr.Issue(context.Background(), "nope", nil, 0)
	assert.ErrorIs(t, err, ErrMeetingNotFound)
}

func TestIssueSetsExpiry(t *testing.T) {
	mgr, _, _, clock := newFixture(t)
	code, err := mgr.Issue(context.Background(), "m1", nil, 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, code.ExpiresAt)
	assert.Equal(t, clock.Add(2*time.Hour), *code.ExpiresAt)
}

func TestValidateIncrementsScanCount(t *testing.T) {
	mgr, store, _, _ := newFixture(t)
	ctx := context.Background()
	code, err := mgr.Issue(ctx, "m1", nil, 0)
	require.NoError(t, err)

	v, err := mgr.Validate(ctx, code.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, v.QrCode.ScanCount)
	assert.Equal(t, "m1", v.Meeting.ID)

	v, err = mgr.Validate(ctx, code.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, v.QrCode.ScanCount)

	stored, err := store.FindQrCode(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ScanCount)
}

func TestValidateUnknownToken(t *testing.T) {
	mgr, _, _, _ := newFixture(t)
	_, err := mgr.Validate(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestValidateExpiredToken(t *testing.T) {
	mgr, _, _, clock := newFixture(t)
	ctx := context.Background()
	code, err := mgr.Issue(ctx, "m1", nil, time.Hour)
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Hour)
	_, err = mgr.Validate(ctx, code.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestExpiryReportedBeforeInvalidation(t *testing.T) {
	mgr, _, _, clock := newFixture(t)
	ctx := context.Background()
	code, err := mgr.Issue(ctx, "m1", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, mgr.Invalidate(ctx, code.ID, "admin-1"))

	*clock = clock.Add(2 * time.Hour)
	_, err = mgr.Validate(ctx, code.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAfterInvalidate(t *testing.T) {
	mgr, _, _, _ := newFixture(t)
	ctx := context.Background()
	code, err := mgr.Issue(ctx, "m1", nil, 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, mgr.Invalidate(ctx, code.ID, "admin-1"))
	_, err = mgr.Validate(ctx, code.Token)
	assert.ErrorIs(t, err, ErrTokenInvalidated)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	mgr, store, _, _ := newFixture(t)
	ctx := context.Background()
	code, err := mgr.Issue(ctx, "m1", nil, 0)
	require.NoError(t, err)

	require.NoError(t, mgr.Invalidate(ctx, code.ID, "admin-1"))
	stored, err := store.FindQrCode(ctx, code.ID)
	require.NoError(t, err)
	firstAt := stored.InvalidatedAt

	require.NoError(t, mgr.Invalidate(ctx, code.ID, "admin-2"))
	stored, err = store.FindQrCode(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, firstAt, stored.InvalidatedAt)
	assert.Equal(t, "admin-1", stored.InvalidatedBy)
}

func TestScanLimit(t *testing.T) {
	mgr, _, _, _ := newFixture(t)
	ctx := context.Background()
	max := 2
	code, err := mgr.Issue(ctx, "m1", &max, 0)
	require.NoError(t, err)

	_, err = mgr.Validate(ctx, code.Token)
	require.NoError(t, err)
	_, err = mgr.Validate(ctx, code.Token)
	require.NoError(t, err)

	_, err = mgr.Validate(ctx, code.Token)
	assert.ErrorIs(t, err, ErrScanLimitExceeded)
}

func TestValidateInactiveMeeting(t *testing.T) {
	mgr, _, meetings, _ := newFixture(t)
	ctx := context.Background()
	code, err := mgr.Issue(ctx, "m1", nil, 0)
	require.NoError(t, err)

	meetings.meetings["m1"].Status = model.MeetingCompleted
	_, err = mgr.Validate(ctx, code.Token)
	assert.ErrorIs(t, err, ErrMeetingNotActive)
}
