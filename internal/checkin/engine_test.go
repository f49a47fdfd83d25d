package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonta/internal/geofence"
	"sonta/internal/model"
	"sonta/internal/qrcode"
)

const (
	meetingLat = 5.6037
	meetingLon = -0.1870
)

type matcherStub struct {
	memberID   string
	confidence float64
	err        error
}

func (m *matcherStub) Match(ctx context.Context, image []byte) (string, float64, error) {
	return m.memberID, m.confidence, m.err
}

type meetingStub struct {
	mu       sync.Mutex
	meetings map[string]*model.Meeting
}

func (s *meetingStub) FindMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

type fixture struct {
	engine   *Engine
	store    *MemoryStore
	qrStore  *qrcode.MemoryStore
	counter  *MemoryCounter
	matcher  *matcherStub
	meetings *meetingStub
	token    string
	qrID     string
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }

	started := now.Add(-10 * time.Minute)
	cutoff := 15
	meetings := &meetingStub{meetings: map[string]*model.Meeting{
		"m1": {
			ID:                       "m1",
			Title:                    "Sunday Service",
			Status:                   model.MeetingActive,
			Latitude:                 meetingLat,
			Longitude:                meetingLon,
			GeofenceRadiusMeters:     100,
			ActualStart:              &started,
			LateArrivalCutoffMinutes: &cutoff,
		},
	}}

	qrStore := qrcode.NewMemoryStore()
	mgr := qrcode.NewManager(qrStore, meetings, 0, qrcode.WithClock(tick))
	code, err := mgr.Issue(context.Background(), "m1", nil, 0)
	require.NoError(t, err)

	store := NewMemoryStore()
	store.AddSontaHead(model.SontaHead{ID: "sh1", Name: "Ama Mensah", Phone: "+233200000001", Status: model.SontaHeadActive})
	store.AddSontaHead(model.SontaHead{ID: "sh2", Name: "Kofi Owusu", Phone: "+233200000002", Status: model.SontaHeadSuspended})

	counter := NewMemoryCounter(time.Hour).WithCounterClock(tick)
	matcher := &matcherStub{}

	engine := NewEngine(
		mgr,
		geofence.NewEvaluator(0),
		matcher,
		meetings,
		store,
		store,
		store,
		store,
		counter,
		Config{AutoApproveThreshold: 0.85, MinReviewThreshold: 0.40, MaxAttempts: 3},
		WithClock(tick),
	)

	return &fixture{
		engine:   engine,
		store:    store,
		qrStore:  qrStore,
		counter:  counter,
		matcher:  matcher,
		meetings: meetings,
		token:    code.Token,
		qrID:     code.ID,
		clock:    clock,
	}
}

func (f *fixture) request() Request {
	return Request{
		QRToken:   f.token,
		Latitude:  meetingLat,
		Longitude: meetingLon,
		Image:     []byte("jpeg"),
		Device:    model.DeviceInfo{DeviceID: "dev-1", Platform: "android"},
	}
}

func TestCheckInAutoApproved(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.92

	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, res.Status)
	require.NotNil(t, res.Attendance)
	assert.Equal(t, model.MethodFacialRecognition, res.Attendance.Method)
	require.NotNil(t, res.Attendance.FacialConfidenceScore)
	assert.Equal(t, 0.92, *res.Attendance.FacialConfidenceScore)
	assert.False(t, res.Attendance.IsLate)

	stored, err := f.store.FindAttendance(context.Background(), "m1", "sh1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCheckInPendingBand(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.60

	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.NotEmpty(t, res.PendingVerificationID)

	// Pending, never attendance.
	att, err := f.store.FindAttendance(context.Background(), "m1", "sh1")
	require.NoError(t, err)
	assert.Nil(t, att)

	p, err := f.store.FindPendingVerification(context.Background(), res.PendingVerificationID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.DispositionPending, p.Status)
	assert.Equal(t, 0.60, p.FacialConfidenceScore)
}

func TestCheckInUnrecognizedBurnsAttempts(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = ""
	f.matcher.confidence = 0.20

	ctx := context.Background()
	for i, want := range []int{2, 1, 0} {
		res, err := f.engine.CheckIn(ctx, f.request())
		require.NoError(t, err, "attempt %d", i+1)
		assert.Equal(t, StatusRejected, res.Status)
		assert.Equal(t, CodeIdentityNotConfirmed, res.Code)
		require.NotNil(t, res.AttemptsRemaining)
		assert.Equal(t, want, *res.AttemptsRemaining)
	}

	// Fourth attempt with cap 3: still rejected, no retries left.
	res, err := f.engine.CheckIn(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, CodeIdentityNotConfirmed, res.Code)
	assert.Equal(t, 0, *res.AttemptsRemaining)
	assert.Contains(t, res.Message, "manual check-in")
}

func TestPendingReflectsEarlierFailedAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Burn two of the three attempts with unrecognized captures.
	f.matcher.memberID = ""
	f.matcher.confidence = 0.20
	for i := 0; i < 2; i++ {
		res, err := f.engine.CheckIn(ctx, f.request())
		require.NoError(t, err, "attempt %d", i+1)
		require.Equal(t, StatusRejected, res.Status)
	}

	// An ambiguous match from the same device carries the spent attempts.
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.60
	res, err := f.engine.CheckIn(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	require.NotNil(t, res.AttemptsRemaining)
	assert.Equal(t, 1, *res.AttemptsRemaining)
}

func TestCheckInBelowReviewFloorDiscardsCandidate(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.20

	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, CodeIdentityNotConfirmed, res.Code)

	// No pending record for a sub-floor match.
	pending, err := f.store.ListPendingForMeeting(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCheckInInvalidToken(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.QRToken = "bogus"

	res, err := f.engine.CheckIn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, CodeTokenNotFound, res.Code)
	assert.Empty(t, f.store.Attempts())
}

func TestCheckInOutsideGeofence(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.95

	req := f.request()
	req.Latitude = meetingLat + 200/111190.0 // ~200m north

	res, err := f.engine.CheckIn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, CodeOutOfRange, res.Code)
	require.NotNil(t, res.DistanceMeters)
	assert.InDelta(t, 200, *res.DistanceMeters, 2)

	// The scan was counted on presentation even though the attempt failed.
	code, err := f.qrStore.FindQrCode(context.Background(), f.qrID)
	require.NoError(t, err)
	assert.Equal(t, 1, code.ScanCount)

	attempts := f.store.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptOutsideGeofence, attempts[0].Result)
}

func TestCheckInInvalidCoordinates(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Latitude = 95

	res, err := f.engine.CheckIn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, CodeInvalidCoordinates, res.Code)
}

func TestCheckInSuspendedMember(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh2"
	f.matcher.confidence = 0.95

	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, CodeMemberIneligible, res.Code)
}

func TestCheckInIdempotent(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.92
	ctx := context.Background()

	first, err := f.engine.CheckIn(ctx, f.request())
	require.NoError(t, err)
	require.Equal(t, StatusApproved, first.Status)

	second, err := f.engine.CheckIn(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, second.Status)
	assert.Equal(t, CodeAlreadyCheckedIn, second.Code)

	all, err := f.store.ListAttendanceForMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConcurrentCheckInsSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.95
	ctx := context.Background()

	const n = 8
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.CheckIn(ctx, f.request())
		}(i)
	}
	wg.Wait()

	approved := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		switch res.Status {
		case StatusApproved:
			approved++
		case StatusRejected:
			assert.Equal(t, CodeAlreadyCheckedIn, res.Code)
		default:
			t.Fatalf("unexpected status %q", res.Status)
		}
	}
	assert.Equal(t, 1, approved)

	all, err := f.store.ListAttendanceForMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckInMatcherDown(t *testing.T) {
	f := newFixture(t)
	f.matcher.err = errors.New("connection refused")

	_, err := f.engine.CheckIn(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)
}

func TestLateArrival(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.92

	// Move past the 15-minute cutoff after the recorded actual start.
	*f.clock = f.clock.Add(30 * time.Minute)

	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	require.NotNil(t, res.Attendance)
	assert.True(t, res.Attendance.IsLate)
	assert.Contains(t, res.Message, "late")
}

func TestNoActualStartNeverLate(t *testing.T) {
	f := newFixture(t)
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.92
	f.meetings.meetings["m1"].ActualStart = nil

	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	require.NotNil(t, res.Attendance)
	assert.False(t, res.Attendance.IsLate)
}
