package checkin

import (
	"context"
	"sort"
	"sync"
	"time"

	"sonta/internal/model"
)

// MemoryStore is an in-memory implementation of the engine's store
// interfaces for dev mode and tests. The conditional attendance insert is
// serialized by the mutex, mirroring the unique constraint the Postgres
// store relies on.
type MemoryStore struct {
	mu         sync.Mutex
	attendance map[string]*model.Attendance // keyed meetingID+"/"+sontaHeadID
	pending    map[string]*model.PendingVerification
	members    map[string]*model.SontaHead
	attempts   []model.VerificationAttempt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attendance: make(map[string]*model.Attendance),
		pending:    make(map[string]*model.PendingVerification),
		members:    make(map[string]*model.SontaHead),
	}
}

func ledgerKey(meetingID, sontaHeadID string) string { return meetingID + "/" + sontaHeadID }

func (s *MemoryStore) FindAttendance(ctx context.Context, meetingID, sontaHeadID string) (*model.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attendance[ledgerKey(meetingID, sontaHeadID)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) InsertAttendance(ctx context.Context, att model.Attendance) (*model.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey(att.MeetingID, att.SontaHeadID)
	if _, exists := s.attendance[key]; exists {
		return nil, ErrAlreadyCheckedIn
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	cp := att
	s.attendance[key] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) ListAttendanceForMeeting(ctx context.Context, meetingID string) ([]model.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Attendance
	for _, a := range s.attendance {
		if a.MeetingID == meetingID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CheckInTimestamp.Before(out[j].CheckInTimestamp)
	})
	return out, nil
}

func (s *MemoryStore) InsertPendingVerification(ctx context.Context, p model.PendingVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.pending[p.ID] = &cp
	return nil
}

func (s *MemoryStore) FindPendingVerification(ctx context.Context, id string) (*model.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdatePendingVerification(ctx context.Context, p *model.PendingVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[p.ID]; !ok {
		return ErrPendingNotFound
	}
	cp := *p
	s.pending[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPendingForMeeting(ctx context.Context, meetingID string) ([]model.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PendingVerification
	for _, p := range s.pending {
		if p.MeetingID == meetingID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AddSontaHead seeds a member into the registry.
func (s *MemoryStore) AddSontaHead(m model.SontaHead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.members[m.ID] = &cp
}

func (s *MemoryStore) InsertSontaHead(ctx context.Context, m model.SontaHead) error {
	s.AddSontaHead(m)
	return nil
}

func (s *MemoryStore) FindSontaHead(ctx context.Context, id string) (*model.SontaHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListActiveSontaHeads(ctx context.Context) ([]model.SontaHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SontaHead
	for _, m := range s.members {
		if m.Status == model.SontaHeadActive {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) InsertVerificationAttempt(ctx context.Context, a model.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

// Attempts returns a copy of the audit log. Test hook.
func (s *MemoryStore) Attempts() []model.VerificationAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.VerificationAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// MemoryCounter is an in-memory AttemptCounter with per-key expiry. The
// production counterpart is the redis INCR+TTL counter in internal/store.
type MemoryCounter struct {
	mu     sync.Mutex
	window time.Duration
	counts map[string]*counterEntry
	now    func() time.Time
}

type counterEntry struct {
	count     int
	expiresAt time.Time
}

// NewMemoryCounter creates a counter whose keys reset after window.
func NewMemoryCounter(window time.Duration) *MemoryCounter {
	return &MemoryCounter{
		window: window,
		counts: make(map[string]*counterEntry),
		now:    time.Now,
	}
}

// WithCounterClock overrides the counter's time source, for tests.
func (c *MemoryCounter) WithCounterClock(now func() time.Time) *MemoryCounter {
	c.now = now
	return c
}

func (c *MemoryCounter) Increment(ctx context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.counts[key]
	if !ok || now.After(e.expiresAt) {
		e = &counterEntry{expiresAt: now.Add(c.window)}
		c.counts[key] = e
	}
	e.count++
	return e.count, nil
}

func (c *MemoryCounter) Count(ctx context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.counts[key]
	if !ok || c.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}
