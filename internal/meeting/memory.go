package meeting

import (
	"context"
	"sort"
	"sync"

	"sonta/internal/model"
)

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	meetings map[string]*model.Meeting
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meetings: make(map[string]*model.Meeting)}
}

func (s *MemoryStore) InsertMeeting(ctx context.Context, m model.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.meetings[m.ID] = &cp
	return nil
}

func (s *MemoryStore) FindMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) UpdateMeeting(ctx context.Context, m *model.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[m.ID]; !ok {
		return ErrNotFound
	}
	cp := *m
	s.meetings[m.ID] = &cp
	return nil
}

func (s *MemoryStore) ListMeetings(ctx context.Context) ([]model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
