package checkin

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"sonta/internal/model"
	"sonta/internal/qrcode"
)

// Decision is an admin's verdict on a pending verification.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Review resolves a pending verification. Disposition is one-way: a record
// that is no longer pending fails with ErrAlreadyResolved. Approving
// materializes an attendance record with the original confidence; when the
// member was checked in by other means in the meantime, the pending record
// is resolved as rejected with an explanatory note and the reviewer gets
// ErrAlreadyCheckedIn.
func (e *Engine) Review(ctx context.Context, pendingID string, decision Decision, adminID, notes string) (*model.Attendance, error) {
	p, err := e.pending.FindPendingVerification(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPendingNotFound
	}
	if p.Status != model.DispositionPending {
		return nil, ErrAlreadyResolved
	}

	now := e.now().UTC()

	if decision == DecisionReject {
		p.Status = model.DispositionRejected
		p.ReviewedBy = adminID
		p.ReviewedAt = &now
		p.ReviewNotes = notes
		return nil, e.pending.UpdatePendingVerification(ctx, p)
	}

	meeting, err := e.meetings.FindMeeting(ctx, p.MeetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, qrcode.ErrMeetingNotFound
	}

	att := model.Attendance{
		ID:                    uuid.NewString(),
		MeetingID:             p.MeetingID,
		SontaHeadID:           p.SontaHeadID,
		CheckInTimestamp:      now,
		Method:                model.MethodFacialRecognition,
		FacialConfidenceScore: floatPtr(p.FacialConfidenceScore),
		IsLate:                isLateArrival(meeting, now),
		VerificationAttempts:  1,
		CheckedInByAdminID:    adminID,
		Notes:                 notes,
		Latitude:              p.Latitude,
		Longitude:             p.Longitude,
	}
	created, err := e.attendance.InsertAttendance(ctx, att)
	if errors.Is(err, ErrAlreadyCheckedIn) {
		// Lost the race to a manual check-in. Resolve the record so it
		// cannot be re-reviewed, keep the audit trail, surface the race.
		p.Status = model.DispositionRejected
		p.ReviewedBy = adminID
		p.ReviewedAt = &now
		p.ReviewNotes = "superseded by existing check-in"
		if uerr := e.pending.UpdatePendingVerification(ctx, p); uerr != nil {
			return nil, uerr
		}
		return nil, ErrAlreadyCheckedIn
	}
	if err != nil {
		return nil, err
	}

	p.Status = model.DispositionApproved
	p.ReviewedBy = adminID
	p.ReviewedAt = &now
	p.ReviewNotes = notes
	if err := e.pending.UpdatePendingVerification(ctx, p); err != nil {
		return nil, err
	}
	return created, nil
}

// ManualCheckIn is the admin fallback when facial recognition is
// unavailable or keeps failing. It bypasses token, geofence, and identity
// checks entirely; only the uniqueness rule still applies.
func (e *Engine) ManualCheckIn(ctx context.Context, meetingID, sontaHeadID, adminID, notes string) (*model.Attendance, error) {
	meeting, err := e.meetings.FindMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, qrcode.ErrMeetingNotFound
	}
	if meeting.Status != model.MeetingActive {
		return nil, qrcode.ErrMeetingNotActive
	}

	member, err := e.members.FindSontaHead(ctx, sontaHeadID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}

	now := e.now().UTC()
	att := model.Attendance{
		ID:                   uuid.NewString(),
		MeetingID:            meetingID,
		SontaHeadID:          sontaHeadID,
		CheckInTimestamp:     now,
		Method:               model.MethodManualAdmin,
		IsLate:               isLateArrival(meeting, now),
		VerificationAttempts: 1,
		CheckedInByAdminID:   adminID,
		Notes:                notes,
	}
	return e.attendance.InsertAttendance(ctx, att)
}

// PendingVerifications lists unresolved verifications for a meeting, newest
// first, for the admin review screen.
func (e *Engine) PendingVerifications(ctx context.Context, meetingID string) ([]model.PendingVerification, error) {
	all, err := e.pending.ListPendingForMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	out := make([]model.PendingVerification, 0, len(all))
	for _, p := range all {
		if p.Status == model.DispositionPending {
			out = append(out, p)
		}
	}
	return out, nil
}
