package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ExecutionStore — хранилище выполнений saga.
//
// Каждое выполнение продвигает только запустившая его горутина,
// поэтому хранилище должно лишь защищать конкурентные вставки разных saga.
type ExecutionStore interface {
	// Save сохраняет снимок выполнения (insert или replace).
	Save(ctx context.Context, exec *Execution) error

	// Get возвращает выполнение или ErrExecutionNotFound.
	Get(ctx context.Context, sagaID string) (*Execution, error)

	// List возвращает все выполнения, упорядоченные по StartedAt.
	List(ctx context.Context) ([]*Execution, error)

	// Delete удаляет выполнение.
	Delete(ctx context.Context, sagaID string) error

	// Sweep удаляет финальные выполнения, начатые раньше before.
	Sweep(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore — ExecutionStore в памяти процесса.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*Execution
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs: make(map[string]*Execution),
	}
}

func (s *MemoryStore) Save(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[exec.SagaID] = exec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sagaID string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[sagaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, sagaID)
	}
	return exec.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Execution, 0, len(s.execs))
	for _, exec := range s.execs {
		out = append(out, exec.Clone())
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, sagaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.execs, sagaID)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, exec := range s.execs {
		if exec.Status.IsTerminal() && exec.StartedAt.Before(before) {
			delete(s.execs, id)
			removed++
		}
	}
	return removed, nil
}

func sortByStart(execs []*Execution) {
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].StartedAt.Before(execs[j].StartedAt)
	})
}
