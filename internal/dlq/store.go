package dlq

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/repo"
)

// Store — dead-letter хранилище.
type Store interface {
	Add(ctx context.Context, m *domain.DLQMessage) error
	Update(ctx context.Context, m *domain.DLQMessage) error
	List(ctx context.Context, limit int) ([]*domain.DLQMessage, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

// MemoryStore — in-memory Store.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*domain.DLQMessage
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID]*domain.DLQMessage)}
}

func (s *MemoryStore) Add(_ context.Context, m *domain.DLQMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, m *domain.DLQMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*domain.DLQMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.DLQMessage, 0, len(s.messages))
	for _, m := range s.messages {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), nil
}
