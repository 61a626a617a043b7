package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/repo"
)

// Store — хранилище событий outbox.
//
// Insert вызывается с ctx транзакции бизнес-записи: событие становится
// видимым для ClaimPending только после её фиксации.
// ClaimPending обязан атомарно переводить PENDING → PROCESSING.
type Store interface {
	Insert(ctx context.Context, ev *domain.OutboxEvent) error
	ClaimPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	RequeueFailed(ctx context.Context, limit int) (int64, error)
	ReleaseStuck(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int, error)
	List(ctx context.Context, status domain.OutboxStatus, limit int) ([]*domain.OutboxEvent, error)
}

// MemoryStore — in-memory Store.
//
// Участвует в транзакциях repo.MemoryTxManager через repo.Enlist,
// поэтому повторяет семантику видимости PostgreSQL-реализации.
type MemoryStore struct {
	mu        sync.Mutex
	events    map[uuid.UUID]*domain.OutboxEvent
	claimedAt map[uuid.UUID]time.Time
	seq       map[uuid.UUID]int64
	next      int64
	now       func() time.Time
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[uuid.UUID]*domain.OutboxEvent),
		claimedAt: make(map[uuid.UUID]time.Time),
		seq:       make(map[uuid.UUID]int64),
		now:       time.Now,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, ev *domain.OutboxEvent) error {
	cp := *ev
	s.mu.Lock()
	_, exists := s.events[ev.ID]
	s.mu.Unlock()
	if exists {
		return repo.ErrAlreadyExists
	}

	repo.Enlist(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.next++
		s.seq[cp.ID] = s.next
		s.events[cp.ID] = &cp
	})
	return nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.filter(domain.OutboxStatusPending)
	s.sortOldestFirst(pending)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	now := s.now()
	out := make([]*domain.OutboxEvent, 0, len(pending))
	for _, ev := range pending {
		ev.Status = domain.OutboxStatusProcessing
		s.claimedAt[ev.ID] = now
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(id, func(ev *domain.OutboxEvent) {
		ev.Status = domain.OutboxStatusProcessed
		ev.ProcessedAt = &at
		ev.Error = ""
	})
}

func (s *MemoryStore) MarkRetry(_ context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	return s.transition(id, func(ev *domain.OutboxEvent) {
		ev.Status = domain.OutboxStatusPending
		ev.RetryCount = retryCount
		ev.Error = errMsg
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	return s.transition(id, func(ev *domain.OutboxEvent) {
		ev.Status = domain.OutboxStatusFailed
		ev.RetryCount = retryCount
		ev.Error = errMsg
	})
}

// transition применяет изменение только к событию в статусе PROCESSING.
func (s *MemoryStore) transition(id uuid.UUID, apply func(ev *domain.OutboxEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return repo.ErrNotFound
	}
	if ev.Status != domain.OutboxStatusProcessing {
		return repo.ErrInvalidState
	}
	apply(ev)
	delete(s.claimedAt, id)
	return nil
}

func (s *MemoryStore) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ev := range s.events {
		if ev.Status == domain.OutboxStatusProcessed && ev.ProcessedAt != nil && ev.ProcessedAt.Before(before) {
			delete(s.events, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RequeueFailed(_ context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := s.filter(domain.OutboxStatusFailed)
	s.sortOldestFirst(failed)
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	for _, ev := range failed {
		ev.Status = domain.OutboxStatusPending
		ev.RetryCount = 0
		ev.Error = ""
	}
	return int64(len(failed)), nil
}

func (s *MemoryStore) ReleaseStuck(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, at := range s.claimedAt {
		ev, ok := s.events[id]
		if !ok || ev.Status != domain.OutboxStatusProcessing || !at.Before(before) {
			continue
		}
		ev.Status = domain.OutboxStatusPending
		delete(s.claimedAt, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[domain.OutboxStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.OutboxStatus]int)
	for _, ev := range s.events {
		counts[ev.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) List(_ context.Context, status domain.OutboxStatus, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.filter(status)
	s.sortOldestFirst(list)
	// Новые первыми, как в PostgreSQL-реализации.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	out := make([]*domain.OutboxEvent, len(list))
	for i, ev := range list {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

// filter возвращает события со статусом status (пустой — все). Вызывать под mu.
func (s *MemoryStore) filter(status domain.OutboxStatus) []*domain.OutboxEvent {
	var out []*domain.OutboxEvent
	for _, ev := range s.events {
		if status == "" || ev.Status == status {
			out = append(out, ev)
		}
	}
	return out
}

// sortOldestFirst упорядочивает по created_at, при равенстве — по порядку вставки.
func (s *MemoryStore) sortOldestFirst(list []*domain.OutboxEvent) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return s.seq[list[i].ID] < s.seq[list[j].ID]
	})
}
