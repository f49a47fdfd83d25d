// Package meeting owns the meeting lifecycle: creation, activation (which
// issues the first QR code and stamps the actual start), completion, and
// cancellation. Status transitions are forward-only.
package meeting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sonta/internal/model"
	"sonta/internal/qrcode"
)

var (
	ErrNotFound          = errors.New("meeting not found")
	ErrInvalidTransition = errors.New("invalid meeting status transition")
	ErrInvalidGeofence   = errors.New("geofence radius must be positive")
	ErrInvalidLocation   = errors.New("meeting location out of range")
)

// Store persists meetings.
type Store interface {
	InsertMeeting(ctx context.Context, m model.Meeting) error
	FindMeeting(ctx context.Context, id string) (*model.Meeting, error)
	UpdateMeeting(ctx context.Context, m *model.Meeting) error
	ListMeetings(ctx context.Context) ([]model.Meeting, error)
}

// Service manages meetings and rotates their QR codes on activation.
type Service struct {
	store Store
	qr    *qrcode.Manager
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a meeting service.
func NewService(store Store, qr *qrcode.Manager, opts ...Option) *Service {
	s := &Service{store: store, qr: qr, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams are the admin-supplied fields of a new meeting.
type CreateParams struct {
	Title                    string
	LocationName             string
	Latitude                 float64
	Longitude                float64
	GeofenceRadiusMeters     float64
	ScheduledStart           time.Time
	LateArrivalCutoffMinutes *int
}

// Create validates and stores a new scheduled meeting.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Meeting, error) {
	if p.GeofenceRadiusMeters <= 0 {
		return nil, ErrInvalidGeofence
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return nil, ErrInvalidLocation
	}

	m := model.Meeting{
		ID:                       uuid.NewString(),
		Title:                    p.Title,
		Status:                   model.MeetingScheduled,
		LocationName:             p.LocationName,
		Latitude:                 p.Latitude,
		Longitude:                p.Longitude,
		GeofenceRadiusMeters:     p.GeofenceRadiusMeters,
		ScheduledStart:           p.ScheduledStart,
		LateArrivalCutoffMinutes: p.LateArrivalCutoffMinutes,
		CreatedAt:                s.now().UTC(),
	}
	if err := s.store.InsertMeeting(ctx, m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Activate moves a scheduled meeting to active, records the actual start
// exactly once, and issues the meeting's first QR code.
func (s *Service) Activate(ctx context.Context, id string) (*model.Meeting, *model.QrCode, error) {
	m, err := s.store.FindMeeting(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, ErrNotFound
	}
	if m.Status != model.MeetingScheduled {
		return nil, nil, ErrInvalidTransition
	}

	now := s.now().UTC()
	m.Status = model.MeetingActive
	if m.ActualStart == nil {
		m.ActualStart = &now
	}
	if err := s.store.UpdateMeeting(ctx, m); err != nil {
		return nil, nil, err
	}

	code, err := s.qr.Issue(ctx, m.ID, nil, 0)
	if err != nil {
		return nil, nil, err
	}
	return m, code, nil
}

// Complete moves an active meeting to completed.
func (s *Service) Complete(ctx context.Context, id string) (*model.Meeting, error) {
	return s.transition(ctx, id, model.MeetingCompleted, model.MeetingActive)
}

// Cancel cancels a meeting from scheduled or active.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Meeting, error) {
	return s.transition(ctx, id, model.MeetingCancelled, model.MeetingScheduled, model.MeetingActive)
}

func (s *Service) transition(ctx context.Context, id string, to model.MeetingStatus, from ...model.MeetingStatus) (*model.Meeting, error) {
	m, err := s.store.FindMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	ok := false
	for _, f := range from {
		if m.Status == f {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	m.Status = to
	if err := s.store.UpdateMeeting(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a meeting by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Meeting, error) {
	m, err := s.store.FindMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

// List returns all meetings.
func (s *Service) List(ctx context.Context) ([]model.Meeting, error) {
	return s.store.ListMeetings(ctx)
}
