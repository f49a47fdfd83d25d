package model

import (
	"encoding/json"
	"time"
)

// MeetingStatus is the lifecycle state of a meeting. Transitions are
// forward-only: scheduled -> active -> completed, or -> cancelled from
// scheduled/active.
type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingActive    MeetingStatus = "active"
	MeetingCompleted MeetingStatus = "completed"
	MeetingCancelled MeetingStatus = "cancelled"
)

// Meeting is a scheduled gathering with a geofenced check-in location.
type Meeting struct {
	ID                       string         `json:"id"`
	Title                    string         `json:"title"`
	Status                   MeetingStatus  `json:"status"`
	LocationName             string         `json:"location_name,omitempty"`
	Latitude                 float64        `json:"latitude"`
	Longitude                float64        `json:"longitude"`
	GeofenceRadiusMeters     float64        `json:"geofence_radius_meters"`
	ScheduledStart           time.Time      `json:"scheduled_start"`
	ActualStart              *time.Time     `json:"actual_start,omitempty"`
	LateArrivalCutoffMinutes *int           `json:"late_arrival_cutoff_minutes,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
}

// QrCode is a rotating check-in token for a meeting. A meeting has many
// codes over time but at most one active at a time. Once invalidated a
// code is never resurrected.
type QrCode struct {
	ID            string     `json:"id"`
	MeetingID     string     `json:"meeting_id"`
	Token         string     `json:"-"`
	ScanCount     int        `json:"scan_count"`
	MaxScans      *int       `json:"max_scans,omitempty"`
	Active        bool       `json:"active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	InvalidatedBy string     `json:"invalidated_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Invalidated reports whether the code has been explicitly invalidated.
func (q *QrCode) Invalidated() bool { return q.InvalidatedAt != nil }

// Expired reports whether the code's expiry has passed at the given time.
func (q *QrCode) Expired(now time.Time) bool {
	return q.ExpiresAt != nil && now.After(*q.ExpiresAt)
}

// ScanLimitReached reports whether the code is at or over its scan limit.
func (q *QrCode) ScanLimitReached() bool {
	return q.MaxScans != nil && q.ScanCount >= *q.MaxScans
}

// SontaHeadStatus is the enrollment state of a member.
type SontaHeadStatus string

const (
	SontaHeadActive    SontaHeadStatus = "active"
	SontaHeadInactive  SontaHeadStatus = "inactive"
	SontaHeadSuspended SontaHeadStatus = "suspended"
)

// SontaHead is a tracked member. Only active members are eligible for
// automated check-in.
type SontaHead struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	SontaName       string          `json:"sonta_name,omitempty"`
	Email           string          `json:"email,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Status          SontaHeadStatus `json:"status"`
	ProfileImageURL string          `json:"profile_image_url,omitempty"`
	EnrollmentDate  time.Time       `json:"enrollment_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CheckInMethod records how an attendance was established.
type CheckInMethod string

const (
	MethodFacialRecognition CheckInMethod = "facial_recognition"
	MethodManualAdmin       CheckInMethod = "manual_admin"
)

// Attendance is a finalized check-in. At most one exists per
// (meeting, sonta head) pair.
type Attendance struct {
	ID                    string        `json:"id"`
	MeetingID             string        `json:"meeting_id"`
	SontaHeadID           string        `json:"sonta_head_id"`
	CheckInTimestamp      time.Time     `json:"check_in_timestamp"`
	Method                CheckInMethod `json:"check_in_method"`
	FacialConfidenceScore *float64      `json:"facial_confidence_score,omitempty"`
	IsLate                bool          `json:"is_late"`
	VerificationAttempts  int           `json:"verification_attempts"`
	CheckedInByAdminID    string        `json:"checked_in_by_admin_id,omitempty"`
	Notes                 string        `json:"notes,omitempty"`
	Latitude              *float64      `json:"latitude,omitempty"`
	Longitude             *float64      `json:"longitude,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
}

// Disposition is the review state of a pending verification. It moves
// one-way from pending to approved or rejected.
type Disposition string

const (
	DispositionPending  Disposition = "pending"
	DispositionApproved Disposition = "approved"
	DispositionRejected Disposition = "rejected"
)

// PendingVerification holds an ambiguous facial match awaiting admin
// review. The automated engine never mutates it after creation.
type PendingVerification struct {
	ID                    string      `json:"id"`
	MeetingID             string      `json:"meeting_id"`
	SontaHeadID           string      `json:"sonta_head_id,omitempty"`
	QrCodeID              string      `json:"qr_code_id,omitempty"`
	CapturedImageURL      string      `json:"captured_image_url,omitempty"`
	FacialConfidenceScore float64     `json:"facial_confidence_score"`
	Latitude              *float64    `json:"latitude,omitempty"`
	Longitude             *float64    `json:"longitude,omitempty"`
	Device                DeviceInfo  `json:"device,omitempty"`
	Status                Disposition `json:"status"`
	ReviewedBy            string      `json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time  `json:"reviewed_at,omitempty"`
	ReviewNotes           string      `json:"review_notes,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
}

// AttemptResult classifies a single verification attempt in the audit log.
type AttemptResult string

const (
	AttemptSuccess         AttemptResult = "success"
	AttemptLowConfidence   AttemptResult = "low_confidence"
	AttemptRejected        AttemptResult = "rejected"
	AttemptOutsideGeofence AttemptResult = "outside_geofence"
)

// VerificationAttempt is an audit record of one identity-confirmation try.
type VerificationAttempt struct {
	ID                    string        `json:"id"`
	MeetingID             string        `json:"meeting_id"`
	SontaHeadID           string        `json:"sonta_head_id,omitempty"`
	QrCodeID              string        `json:"qr_code_id,omitempty"`
	Timestamp             time.Time     `json:"timestamp"`
	Result                AttemptResult `json:"result"`
	FacialConfidenceScore *float64      `json:"facial_confidence_score,omitempty"`
	CapturedImageURL      string        `json:"captured_image_url,omitempty"`
	Latitude              *float64      `json:"latitude,omitempty"`
	Longitude             *float64      `json:"longitude,omitempty"`
	Device                DeviceInfo    `json:"device,omitempty"`
	ErrorMessage          string        `json:"error_message,omitempty"`
}

// DeviceInfo is the fixed schema for client device metadata. DeviceID is
// what keys the attempt counter when no member candidate is known.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// Key returns the counter key component for this device.
func (d DeviceInfo) Key() string {
	if d.DeviceID == "" {
		return "unknown"
	}
	return d.DeviceID
}

// MarshalDevice serializes device info for jsonb storage.
func MarshalDevice(d DeviceInfo) ([]byte, error) { return json.Marshal(d) }

// UnmarshalDevice deserializes device info from jsonb storage. Empty or
// null input yields a zero DeviceInfo.
func UnmarshalDevice(b []byte) (DeviceInfo, error) {
	var d DeviceInfo
	if len(b) == 0 {
		return d, nil
	}
	err := json.Unmarshal(b, &d)
	return d, err
}

// MagicLinkToken is a single-use, time-limited admin login token.
type MagicLinkToken struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Token     string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
