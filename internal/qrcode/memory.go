package qrcode

import (
	"context"
	"sync"
	"time"

	"sonta/internal/model"
)

// MemoryStore is an in-memory Store for dev mode and tests. The mutex makes
// ReplaceActiveQrCode and IncrementScanCount serializable, matching the
// guarantees of the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]*model.QrCode
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]*model.QrCode)}
}

func (s *MemoryStore) ReplaceActiveQrCode(ctx context.Context, code model.QrCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.MeetingID == code.MeetingID && c.Active {
			c.Active = false
		}
	}
	cp := code
	s.codes[code.ID] = &cp
	return nil
}

func (s *MemoryStore) FindQrCode(ctx context.Context, id string) (*model.QrCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) FindQrCodeByToken(ctx context.Context, token string) (*model.QrCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.Token == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindActiveQrCodeForMeeting(ctx context.Context, meetingID string) (*model.QrCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.MeetingID == meetingID && c.Active {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) IncrementScanCount(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return 0, ErrTokenNotFound
	}
	c.ScanCount++
	return c.ScanCount, nil
}

func (s *MemoryStore) InvalidateQrCode(ctx context.Context, id, adminID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return ErrTokenNotFound
	}
	if c.InvalidatedAt != nil {
		return nil
	}
	c.InvalidatedAt = &at
	c.InvalidatedBy = adminID
	c.Active = false
	return nil
}

// ActiveCount returns how many active codes exist for a meeting. Test hook
// for the single-active-token invariant.
func (s *MemoryStore) ActiveCount(meetingID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes {
		if c.MeetingID == meetingID && c.Active {
			n++
		}
	}
	return n
}
