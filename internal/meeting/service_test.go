package meeting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonta/internal/model"
	"sonta/internal/qrcode"
)

func newService(t *testing.T) (*Service, *MemoryStore, *qrcode.MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }

	store := NewMemoryStore()
	qrStore := qrcode.NewMemoryStore()
	mgr := qrcode.NewManager(qrStore, store, 0, qrcode.WithClock(tick))
	svc := NewService(store, mgr, WithClock(tick))
	return svc, store, qrStore, clock
}

func validParams(start time.Time) CreateParams {
	return CreateParams{
		Title:                "Sunday Service",
		LocationName:         "Main Hall",
		Latitude:             5.6037,
		Longitude:            -0.1870,
		GeofenceRadiusMeters: 100,
		ScheduledStart:       start,
	}
}

func TestCreateMeeting(t *testing.T) {
	svc, _, _, clock := newService(t)
	m, err := svc.Create(context.Background(), validParams(clock.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, model.MeetingScheduled, m.Status)
	assert.Nil(t, m.ActualStart)
}

func TestCreateRejectsBadGeofence(t *testing.T) {
	svc, _, _, clock := newService(t)
	p := validParams(clock.Add(time.Hour))
	p.GeofenceRadiusMeters = 0
	_, err := svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidGeofence)

	p = validParams(clock.Add(time.Hour))
	p.Latitude = 99
	_, err = svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestActivateSetsActualStartOnceAndIssuesQr(t *testing.T) {
	svc, _, qrStore, clock := newService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, validParams(clock.Add(time.Hour)))
	require.NoError(t, err)

	activated, code, err := svc.Activate(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MeetingActive, activated.Status)
	require.NotNil(t, activated.ActualStart)
	assert.Equal(t, *clock, *activated.ActualStart)
	require.NotNil(t, code)
	assert.True(t, code.Active)
	assert.Equal(t, 1, qrStore.ActiveCount(m.ID))

	// Activation is not repeatable.
	_, _, err = svc.Activate(ctx, m.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	svc, _, _, clock := newService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams(clock.Add(time.Hour)))
	require.NoError(t, err)

	// Complete requires active.
	_, err = svc.Complete(ctx, m.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = svc.Activate(ctx, m.ID)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MeetingCompleted, done.Status)

	// Completed meetings cannot be cancelled or reactivated.
	_, err = svc.Cancel(ctx, m.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = svc.Activate(ctx, m.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelFromScheduledAndActive(t *testing.T) {
	svc, _, _, clock := newService(t)
	ctx := context.Background()

	m1, err := svc.Create(ctx, validParams(clock.Add(time.Hour)))
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MeetingCancelled, cancelled.Status)

	m2, err := svc.Create(ctx, validParams(clock.Add(time.Hour)))
	require.NoError(t, err)
	_, _, err = svc.Activate(ctx, m2.ID)
	require.NoError(t, err)
	cancelled, err = svc.Cancel(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MeetingCancelled, cancelled.Status)
}
