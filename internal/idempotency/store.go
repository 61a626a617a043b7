package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// Store — хранилище записей идемпотентности с TTL.
//
// PutIfAbsent и ReplaceIf должны быть атомарными: из двух конкурентных
// вызовов с одним ключом успешен ровно один.
type Store interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	PutIfAbsent(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error)

	// ReplaceIf записывает rec, только если текущая запись совпадает
	// с expect (см. sameRecord). expect == nil — записи нет или она истекла.
	// Отсутствующая или истёкшая текущая запись заменяется всегда.
	ReplaceIf(ctx context.Context, rec, expect *domain.IdempotencyRecord) (bool, error)

	Put(ctx context.Context, rec *domain.IdempotencyRecord) error
	Delete(ctx context.Context, key string) error

	// FindByHash возвращает неистёкшую успешную запись с тем же hash тела.
	FindByHash(ctx context.Context, bodyHash string) (*domain.IdempotencyRecord, error)

	// Sweep удаляет записи, истёкшие к моменту now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore — in-memory Store для одного процесса и тестов.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
	byHash  map[string]string
	now     func() time.Time
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]*domain.IdempotencyRecord),
		byHash:  make(map[string]string),
		now:     now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.IsExpired(s.now()) {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.MessageKey]; ok && !existing.IsExpired(s.now()) {
		return false, nil
	}
	s.put(rec)
	return true, nil
}

func (s *MemoryStore) ReplaceIf(_ context.Context, rec, expect *domain.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.records[rec.MessageKey]; ok && !current.IsExpired(s.now()) {
		if expect == nil || !sameRecord(current, expect) {
			return false, nil
		}
	}
	s.put(rec)
	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec *domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(rec)
	return nil
}

// sameRecord сравнивает версии записи: результат и момент записи.
func sameRecord(a, b *domain.IdempotencyRecord) bool {
	return a.Result == b.Result && a.ProcessedAt.Equal(b.ProcessedAt)
}

func (s *MemoryStore) put(rec *domain.IdempotencyRecord) {
	cp := *rec
	s.records[rec.MessageKey] = &cp
	if rec.Result == domain.ResultSuccess && rec.BodyHash != "" {
		s.byHash[rec.BodyHash] = rec.MessageKey
	}
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		if s.byHash[rec.BodyHash] == key {
			delete(s.byHash, rec.BodyHash)
		}
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) FindByHash(_ context.Context, bodyHash string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byHash[bodyHash]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec, ok := s.records[key]
	if !ok || rec.IsExpired(s.now()) || rec.Result != domain.ResultSuccess {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if !rec.IsExpired(now) {
			continue
		}
		if s.byHash[rec.BodyHash] == key {
			delete(s.byHash, rec.BodyHash)
		}
		delete(s.records, key)
		removed++
	}
	return removed, nil
}

// Len возвращает число хранимых записей (включая истёкшие до Sweep).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
