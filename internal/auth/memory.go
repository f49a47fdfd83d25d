package auth

import (
	"context"
	"sync"
	"time"

	"sonta/internal/model"
)

// MemoryMagicLinkStore is an in-memory MagicLinkStore for dev mode and
// tests.
type MemoryMagicLinkStore struct {
	mu     sync.Mutex
	tokens map[string]*model.MagicLinkToken
}

// NewMemoryMagicLinkStore creates an empty store.
func NewMemoryMagicLinkStore() *MemoryMagicLinkStore {
	return &MemoryMagicLinkStore{tokens: make(map[string]*model.MagicLinkToken)}
}

func (s *MemoryMagicLinkStore) InsertMagicLink(ctx context.Context, t model.MagicLinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *MemoryMagicLinkStore) FindMagicLinkByToken(ctx context.Context, token string) (*model.MagicLinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryMagicLinkStore) MarkMagicLinkUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return ErrLinkNotFound
	}
	if t.UsedAt != nil {
		return ErrLinkUsed
	}
	t.UsedAt = &at
	return nil
}
