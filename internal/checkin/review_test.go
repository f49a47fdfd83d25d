package checkin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonta/internal/model"
	"sonta/internal/qrcode"
)

// holdPending drives a mid-band check-in through the engine and returns the
// created pending verification id.
func holdPending(t *testing.T, f *fixture) string {
	t.Helper()
	f.matcher.memberID = "sh1"
	f.matcher.confidence = 0.60
	res, err := f.engine.CheckIn(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Status)
	return res.PendingVerificationID
}

func TestReviewApprove(t *testing.T) {
	f := newFixture(t)
	id := holdPending(t, f)
	ctx := context.Background()

	att, err := f.engine.Review(ctx, id, DecisionApprove, "admin-1", "looks right")
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, model.MethodFacialRecognition, att.Method)
	require.NotNil(t, att.FacialConfidenceScore)
	assert.Equal(t, 0.60, *att.FacialConfidenceScore)
	assert.Equal(t, "admin-1", att.CheckedInByAdminID)

	p, err := f.store.FindPendingVerification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.DispositionApproved, p.Status)
	assert.Equal(t, "admin-1", p.ReviewedBy)
	require.NotNil(t, p.ReviewedAt)
}

func TestReviewReject(t *testing.T) {
	f := newFixture(t)
	id := holdPending(t, f)
	ctx := context.Background()

	att, err := f.engine.Review(ctx, id, DecisionReject, "admin-1", "not the same person")
	require.NoError(t, err)
	assert.Nil(t, att)

	p, err := f.store.FindPendingVerification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.DispositionRejected, p.Status)

	stored, err := f.store.FindAttendance(ctx, "m1", "sh1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReviewIsOneWay(t *testing.T) {
	f := newFixture(t)
	id := holdPending(t, f)
	ctx := context.Background()

	_, err := f.engine.Review(ctx, id, DecisionReject, "admin-1", "")
	require.NoError(t, err)

	_, err = f.engine.Review(ctx, id, DecisionApprove, "admin-2", "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestReviewUnknownPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Review(context.Background(), "nope", DecisionApprove, "admin-1", "")
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestReviewLosesRaceToManualCheckIn(t *testing.T) {
	f := newFixture(t)
	id := holdPending(t, f)
	ctx := context.Background()

	// A manual check-in lands between hold and review.
	_, err := f.engine.ManualCheckIn(ctx, "m1", "sh1", "admin-2", "")
	require.NoError(t, err)

	_, err = f.engine.Review(ctx, id, DecisionApprove, "admin-1", "")
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	// The record is deterministically resolved, never left for re-review.
	p, perr := f.store.FindPendingVerification(ctx, id)
	require.NoError(t, perr)
	assert.Equal(t, model.DispositionRejected, p.Status)
	assert.Equal(t, "superseded by existing check-in", p.ReviewNotes)

	all, err := f.store.ListAttendanceForMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, model.MethodManualAdmin, all[0].Method)
}

func TestManualCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	att, err := f.engine.ManualCheckIn(ctx, "m1", "sh1", "admin-1", "camera broken")
	require.NoError(t, err)
	assert.Equal(t, model.MethodManualAdmin, att.Method)
	assert.Equal(t, "admin-1", att.CheckedInByAdminID)
	assert.Nil(t, att.FacialConfidenceScore)

	_, err = f.engine.ManualCheckIn(ctx, "m1", "sh1", "admin-1", "")
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
}

func TestManualCheckInInactiveMeeting(t *testing.T) {
	f := newFixture(t)
	f.meetings.meetings["m1"].Status = model.MeetingCompleted

	_, err := f.engine.ManualCheckIn(context.Background(), "m1", "sh1", "admin-1", "")
	assert.ErrorIs(t, err, qrcode.ErrMeetingNotActive)
}

func TestManualCheckInUnknownMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ManualCheckIn(context.Background(), "m1", "ghost", "admin-1", "")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestMeetingAttendanceSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddSontaHead(model.SontaHead{ID: "sh3", Name: "Esi Boateng", Phone: "+233200000003", Status: model.SontaHeadActive})

	_, err := f.engine.ManualCheckIn(ctx, "m1", "sh1", "admin-1", "")
	require.NoError(t, err)

	summary, err := f.engine.MeetingAttendance(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, summary.CheckedIn, 1)
	assert.Len(t, summary.NotCheckedIn, 1)
	assert.Equal(t, "sh3", summary.NotCheckedIn[0].ID)

	// Suspended sh2 is not expected.
	assert.Equal(t, 2, summary.Statistics.TotalExpected)
	assert.Equal(t, 1, summary.Statistics.ManualCheckIns)
	assert.Equal(t, 50, summary.Statistics.AttendanceRate)
}

func TestEnrolledMemberManualCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sh := model.SontaHead{ID: "sh9", Name: "Abena Sarpong", Phone: "+233200000009", Status: model.SontaHeadActive}
	require.NoError(t, f.store.InsertSontaHead(ctx, sh))

	att, err := f.engine.ManualCheckIn(ctx, "m1", "sh9", "admin-1", "enrolled at the door")
	require.NoError(t, err)
	assert.Equal(t, model.MethodManualAdmin, att.Method)
	assert.Equal(t, "sh9", att.SontaHeadID)

	// The new member shows up in the active registry alongside sh1.
	list, err := f.store.ListActiveSontaHeads(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
