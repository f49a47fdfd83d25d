package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sonta/internal/geofence"
	"sonta/internal/model"
	"sonta/internal/qrcode"
)

// Engine orchestrates a check-in attempt: token validation, geofence gate,
// identity match, and the approve/pending/reject decision. It owns the
// attempt cap and the late-arrival policy. All state lives in the stores;
// the engine itself is safe for concurrent use.
type Engine struct {
	qr         *qrcode.Manager
	geo        *geofence.Evaluator
	matcher    Matcher
	meetings   MeetingStore
	members    MemberStore
	attendance AttendanceStore
	pending    PendingStore
	attempts   AttemptLog
	counter    AttemptCounter
	cfg        Config
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the decision engine. Thresholds in cfg are read-only
// after this call.
func NewEngine(
	qr *qrcode.Manager,
	geo *geofence.Evaluator,
	matcher Matcher,
	meetings MeetingStore,
	members MemberStore,
	attendance AttendanceStore,
	pending PendingStore,
	attempts AttemptLog,
	counter AttemptCounter,
	cfg Config,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		qr:         qr,
		geo:        geo,
		matcher:    matcher,
		meetings:   meetings,
		members:    members,
		attendance: attendance,
		pending:    pending,
		attempts:   attempts,
		counter:    counter,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckIn runs one attempt. Validation failures come back as a rejected
// Result with a reason code; a non-nil error means infrastructure failure
// (store errors, or ErrCapabilityUnavailable when the matcher is down).
func (e *Engine) CheckIn(ctx context.Context, req Request) (*Result, error) {
	// Token first. The scan count is incremented here, on presentation,
	// and stays incremented whatever happens below.
	v, err := e.qr.Validate(ctx, req.QRToken)
	if err != nil {
		if code := rejectionCode(err); code != "" {
			return rejected(code, err.Error()), nil
		}
		return nil, err
	}
	meeting := v.Meeting

	geo, err := e.geo.Evaluate(
		geofence.Fix{Latitude: req.Latitude, Longitude: req.Longitude, AccuracyMeters: req.AccuracyMeters},
		geofence.Fence{Latitude: meeting.Latitude, Longitude: meeting.Longitude, RadiusMeters: meeting.GeofenceRadiusMeters},
	)
	if err != nil {
		if code := rejectionCode(err); code != "" {
			return rejected(code, err.Error()), nil
		}
		return nil, err
	}
	if !geo.Valid {
		e.logAttempt(ctx, meeting.ID, "", v.QrCode.ID, req, model.AttemptOutsideGeofence, nil,
			fmt.Sprintf("outside geofence: %.0fm from meeting location", geo.DistanceMeters))
		res := rejected(CodeOutOfRange, "You must be at the meeting location to check in.")
		res.DistanceMeters = floatPtr(geo.DistanceMeters)
		return res, nil
	}

	memberID, confidence, err := e.matcher.Match(ctx, req.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}

	if memberID == "" || confidence < e.cfg.MinReviewThreshold {
		// Below the review floor the candidate, if any, is discarded.
		return e.rejectUnrecognized(ctx, meeting, v.QrCode.ID, req, confidence)
	}

	member, err := e.members.FindSontaHead(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.Status != model.SontaHeadActive {
		e.logAttempt(ctx, meeting.ID, memberID, v.QrCode.ID, req, model.AttemptRejected, &confidence,
			"matched sonta head is not eligible for check-in")
		return rejected(CodeMemberIneligible, "This member is not eligible for check-in."), nil
	}

	existing, err := e.attendance.FindAttendance(ctx, meeting.ID, member.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.alreadyCheckedIn(confidence), nil
	}

	if confidence >= e.cfg.AutoApproveThreshold {
		return e.approve(ctx, meeting, member, v.QrCode.ID, req, confidence)
	}
	return e.hold(ctx, meeting, member, v.QrCode.ID, req, confidence)
}

// approve finalizes an attendance record. The store's conditional insert is
// the arbiter of a concurrent duplicate; the loser gets AlreadyCheckedIn.
func (e *Engine) approve(ctx context.Context, meeting *model.Meeting, member *model.SontaHead, qrCodeID string, req Request, confidence float64) (*Result, error) {
	now := e.now().UTC()
	failed, err := e.counter.Count(ctx, attemptKey(meeting.ID, req.Device.Key()))
	if err != nil {
		failed = 0
	}

	att := model.Attendance{
		ID:                    uuid.NewString(),
		MeetingID:             meeting.ID,
		SontaHeadID:           member.ID,
		CheckInTimestamp:      now,
		Method:                model.MethodFacialRecognition,
		FacialConfidenceScore: floatPtr(confidence),
		IsLate:                isLateArrival(meeting, now),
		VerificationAttempts:  failed + 1,
		Latitude:              floatPtr(req.Latitude),
		Longitude:             floatPtr(req.Longitude),
	}
	created, err := e.attendance.InsertAttendance(ctx, att)
	if errors.Is(err, ErrAlreadyCheckedIn) {
		return e.alreadyCheckedIn(confidence), nil
	}
	if err != nil {
		return nil, err
	}

	e.logAttempt(ctx, meeting.ID, member.ID, qrCodeID, req, model.AttemptSuccess, &confidence, "")

	msg := "Check-in successful! You're marked present."
	if created.IsLate {
		msg = "Check-in successful! You're marked present (late)."
	}
	return &Result{
		Status:                StatusApproved,
		Message:               msg,
		Attendance:            created,
		FacialConfidenceScore: floatPtr(confidence),
	}, nil
}

// hold queues an ambiguous match for admin review. The attempt returns
// pending immediately; disposition happens out-of-band.
func (e *Engine) hold(ctx context.Context, meeting *model.Meeting, member *model.SontaHead, qrCodeID string, req Request, confidence float64) (*Result, error) {
	p := model.PendingVerification{
		ID:                    uuid.NewString(),
		MeetingID:             meeting.ID,
		SontaHeadID:           member.ID,
		QrCodeID:              qrCodeID,
		CapturedImageURL:      req.ImageRef,
		FacialConfidenceScore: confidence,
		Latitude:              floatPtr(req.Latitude),
		Longitude:             floatPtr(req.Longitude),
		Device:                req.Device,
		Status:                model.DispositionPending,
		CreatedAt:             e.now().UTC(),
	}
	if err := e.pending.InsertPendingVerification(ctx, p); err != nil {
		return nil, err
	}

	e.logAttempt(ctx, meeting.ID, member.ID, qrCodeID, req, model.AttemptLowConfidence, &confidence, "")

	// Failures are counted against the presenting device, so the same key
	// is read here that rejectUnrecognized increments.
	failed, err := e.counter.Count(ctx, attemptKey(meeting.ID, req.Device.Key()))
	if err != nil {
		failed = 0
	}
	return &Result{
		Status:                StatusPending,
		Message:               "Your check-in is pending admin review.",
		PendingVerificationID: p.ID,
		AttemptsRemaining:     intPtr(remaining(e.cfg.MaxAttempts, failed)),
		FacialConfidenceScore: floatPtr(confidence),
	}, nil
}

// rejectUnrecognized handles no-match and sub-floor confidence. Each try
// burns one attempt for the presenting device; once the cap is spent the
// client is told to see an admin instead of re-capturing.
func (e *Engine) rejectUnrecognized(ctx context.Context, meeting *model.Meeting, qrCodeID string, req Request, confidence float64) (*Result, error) {
	e.logAttempt(ctx, meeting.ID, "", qrCodeID, req, model.AttemptRejected, &confidence, "no matching sonta head found")

	count, err := e.counter.Increment(ctx, attemptKey(meeting.ID, req.Device.Key()))
	if err != nil {
		return nil, err
	}
	left := remaining(e.cfg.MaxAttempts, count)

	res := rejected(CodeIdentityNotConfirmed, "Face not recognized. Please try again.")
	res.AttemptsRemaining = intPtr(left)
	res.FacialConfidenceScore = floatPtr(confidence)
	if left == 0 {
		res.Message = "Maximum attempts reached. Please see an admin for manual check-in."
	}
	return res, nil
}

func (e *Engine) alreadyCheckedIn(confidence float64) *Result {
	res := rejected(CodeAlreadyCheckedIn, "You are already checked in to this meeting.")
	res.FacialConfidenceScore = floatPtr(confidence)
	return res
}

// logAttempt appends to the audit trail. Audit writes never fail a
// check-in; errors are dropped.
func (e *Engine) logAttempt(ctx context.Context, meetingID, sontaHeadID, qrCodeID string, req Request, result model.AttemptResult, confidence *float64, errMsg string) {
	_ = e.attempts.InsertVerificationAttempt(ctx, model.VerificationAttempt{
		ID:                    uuid.NewString(),
		MeetingID:             meetingID,
		SontaHeadID:           sontaHeadID,
		QrCodeID:              qrCodeID,
		Timestamp:             e.now().UTC(),
		Result:                result,
		FacialConfidenceScore: confidence,
		CapturedImageURL:      req.ImageRef,
		Latitude:              floatPtr(req.Latitude),
		Longitude:             floatPtr(req.Longitude),
		Device:                req.Device,
		ErrorMessage:          errMsg,
	})
}

// isLateArrival applies the late cutoff against the recorded actual start.
// Meetings that never recorded an actual start mark nobody late.
func isLateArrival(meeting *model.Meeting, at time.Time) bool {
	if meeting.ActualStart == nil || meeting.LateArrivalCutoffMinutes == nil {
		return false
	}
	cutoff := meeting.ActualStart.Add(time.Duration(*meeting.LateArrivalCutoffMinutes) * time.Minute)
	return at.After(cutoff)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
