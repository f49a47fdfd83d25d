package queue

import (
	"encoding/json"
	"time"
)

// Message types published by the API and consumed by the worker.
const (
	TypeAttendanceRecorded = "attendance_recorded"
	TypePendingReview      = "pending_review"
)

// AttendanceEvent notifies downstream consumers of a finalized check-in.
type AttendanceEvent struct {
	AttendanceID string    `json:"attendance_id"`
	MeetingID    string    `json:"meeting_id"`
	SontaHeadID  string    `json:"sonta_head_id"`
	Method       string    `json:"method"`
	IsLate       bool      `json:"is_late"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// PendingReviewEvent notifies admins that a verification needs review.
type PendingReviewEvent struct {
	PendingVerificationID string    `json:"pending_verification_id"`
	MeetingID             string    `json:"meeting_id"`
	SontaHeadID           string    `json:"sonta_head_id,omitempty"`
	Confidence            float64   `json:"confidence"`
	CreatedAt             time.Time `json:"created_at"`
}

// NewAttendanceMessage serializes an attendance event.
func NewAttendanceMessage(ev AttendanceEvent) (Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeAttendanceRecorded, Body: body}, nil
}

// NewPendingReviewMessage serializes a pending-review event.
func NewPendingReviewMessage(ev PendingReviewEvent) (Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypePendingReview, Body: body}, nil
}
