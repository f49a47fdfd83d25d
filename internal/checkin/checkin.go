// Package checkin holds the check-in verification engine: the decision
// logic that turns a scanned QR token, a location fix, and a captured face
// into an approved, pending, or rejected outcome, plus the admin review and
// manual check-in paths that feed the same attendance ledger.
package checkin

import (
	"context"
	"errors"
	"fmt"

	"sonta/internal/geofence"
	"sonta/internal/model"
	"sonta/internal/qrcode"
)

var (
	// ErrAlreadyCheckedIn is the expected outcome of the uniqueness rule,
	// not an exceptional failure. Stores return it from the conditional
	// attendance insert when another writer won the race.
	ErrAlreadyCheckedIn = errors.New("already checked in")

	// ErrAlreadyResolved is returned when reviewing a pending verification
	// whose disposition is no longer pending.
	ErrAlreadyResolved = errors.New("pending verification already reviewed")

	ErrPendingNotFound = errors.New("pending verification not found")
	ErrMemberNotFound  = errors.New("sonta head not found")

	// ErrCapabilityUnavailable means the identity matcher itself is down.
	// It is infrastructure failure, never a check-in outcome.
	ErrCapabilityUnavailable = errors.New("identity matcher unavailable")
)

// Status is the outcome of a check-in attempt.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// Rejection codes surfaced to clients on Result.Code.
const (
	CodeInvalidCoordinates   = "invalid_coordinates"
	CodeTokenNotFound        = "token_not_found"
	CodeTokenExpired         = "token_expired"
	CodeTokenInvalidated     = "token_invalidated"
	CodeScanLimitExceeded    = "scan_limit_exceeded"
	CodeMeetingNotActive     = "meeting_not_active"
	CodeOutOfRange           = "out_of_range"
	CodeMemberIneligible     = "member_ineligible"
	CodeIdentityNotConfirmed = "identity_not_confirmed"
	CodeAlreadyCheckedIn     = "already_checked_in"
)

// Request is a pre-validated check-in attempt. Image carries the captured
// face; ImageRef is its stored location for audit records, empty when image
// storage is unconfigured.
type Request struct {
	QRToken        string
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	Image          []byte
	ImageRef       string
	Device         model.DeviceInfo
}

// Result is the structured outcome of an attempt. Rejections are results,
// not errors: Code identifies the reason and the caller decides whether to
// re-prompt.
type Result struct {
	Status                Status            `json:"status"`
	Code                  string            `json:"code,omitempty"`
	Message               string            `json:"message"`
	Attendance            *model.Attendance `json:"attendance,omitempty"`
	PendingVerificationID string            `json:"pending_verification_id,omitempty"`
	AttemptsRemaining     *int              `json:"attempts_remaining,omitempty"`
	FacialConfidenceScore *float64          `json:"facial_confidence_score,omitempty"`
	DistanceMeters        *float64          `json:"distance_meters,omitempty"`
}

// Matcher is the identity capability the engine consumes. An empty member
// id means no match. An error means the capability is unavailable, which
// the engine surfaces as ErrCapabilityUnavailable rather than a rejection.
type Matcher interface {
	Match(ctx context.Context, image []byte) (memberID string, confidence float64, err error)
}

// AttendanceStore persists the attendance ledger. InsertAttendance must be
// a conditional insert: the store, not the engine, arbitrates concurrent
// check-ins for the same (meeting, member) and returns ErrAlreadyCheckedIn
// to the loser.
type AttendanceStore interface {
	FindAttendance(ctx context.Context, meetingID, sontaHeadID string) (*model.Attendance, error)
	InsertAttendance(ctx context.Context, att model.Attendance) (*model.Attendance, error)
	ListAttendanceForMeeting(ctx context.Context, meetingID string) ([]model.Attendance, error)
}

// PendingStore persists pending verifications.
type PendingStore interface {
	InsertPendingVerification(ctx context.Context, p model.PendingVerification) error
	FindPendingVerification(ctx context.Context, id string) (*model.PendingVerification, error)
	UpdatePendingVerification(ctx context.Context, p *model.PendingVerification) error
	ListPendingForMeeting(ctx context.Context, meetingID string) ([]model.PendingVerification, error)
}

// MemberStore reads the sonta head registry.
type MemberStore interface {
	FindSontaHead(ctx context.Context, id string) (*model.SontaHead, error)
	ListActiveSontaHeads(ctx context.Context) ([]model.SontaHead, error)
}

// MeetingStore resolves meetings for the manual and review paths.
type MeetingStore interface {
	FindMeeting(ctx context.Context, id string) (*model.Meeting, error)
}

// AttemptLog appends to the verification-attempt audit trail.
type AttemptLog interface {
	InsertVerificationAttempt(ctx context.Context, a model.VerificationAttempt) error
}

// AttemptCounter tracks failed identity confirmations per session key. The
// implementation owns the retention window (redis TTL in production).
type AttemptCounter interface {
	Increment(ctx context.Context, key string) (int, error)
	Count(ctx context.Context, key string) (int, error)
}

// Config holds the read-only decision thresholds, loaded once at startup.
type Config struct {
	AutoApproveThreshold float64
	MinReviewThreshold   float64
	MaxAttempts          int
}

// attemptKey scopes the retry counter to a meeting and the presenting
// device. All increments and reads use the device key so the remaining
// count stays consistent across failed and pending attempts.
func attemptKey(meetingID, subject string) string {
	return fmt.Sprintf("attempts:%s:%s", meetingID, subject)
}

// rejectionCode maps validation sentinels to client-facing codes. Unmapped
// errors are infrastructure failures.
func rejectionCode(err error) string {
	switch {
	case errors.Is(err, qrcode.ErrTokenNotFound):
		return CodeTokenNotFound
	case errors.Is(err, qrcode.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, qrcode.ErrTokenInvalidated):
		return CodeTokenInvalidated
	case errors.Is(err, qrcode.ErrScanLimitExceeded):
		return CodeScanLimitExceeded
	case errors.Is(err, qrcode.ErrMeetingNotActive):
		return CodeMeetingNotActive
	case errors.Is(err, geofence.ErrInvalidCoordinates):
		return CodeInvalidCoordinates
	}
	return ""
}

func rejected(code, message string) *Result {
	return &Result{Status: StatusRejected, Code: code, Message: message}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
