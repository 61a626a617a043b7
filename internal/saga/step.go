package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Step — описание шага saga.
//
// Шаг не содержит кода: Handler ссылается на обработчик в Registry,
// поэтому список шагов сериализуем и тестируется отдельно от оркестратора.
type Step struct {
	// ID — уникальный в пределах saga идентификатор шага.
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// Handler — имя обработчика в Registry.
	Handler string `json:"handler"`

	// Retryable — можно ли повторять шаг при временной ошибке.
	Retryable bool `json:"retryable"`

	// MaxRetries — число повторов после первой попытки.
	MaxRetries int `json:"max_retries"`

	// Timeout — ограничение на одну попытку. 0 — таймаут оркестратора.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate проверяет описание шага.
func (s Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidStep)
	}
	if s.Handler == "" {
		return fmt.Errorf("%w: step %s: handler is required", ErrInvalidStep, s.ID)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%w: step %s: max_retries must be >= 0", ErrInvalidStep, s.ID)
	}
	return nil
}

// Handler — реализация шага.
//
// Execute выполняет действие и возвращает результат, который
// сохраняется в Context.Data под ID шага. Compensate семантически
// отменяет выполненное действие; должен быть идемпотентным.
type Handler interface {
	Execute(ctx context.Context, sc *Context) (any, error)
	Compensate(ctx context.Context, sc *Context) error
}

// HandlerFuncs собирает Handler из функций. Compensation может быть nil.
type HandlerFuncs struct {
	Action       func(ctx context.Context, sc *Context) (any, error)
	Compensation func(ctx context.Context, sc *Context) error
}

// Execute вызывает Action.
func (h HandlerFuncs) Execute(ctx context.Context, sc *Context) (any, error) {
	return h.Action(ctx, sc)
}

// Compensate вызывает Compensation, если она задана.
func (h HandlerFuncs) Compensate(ctx context.Context, sc *Context) error {
	if h.Compensation == nil {
		return nil
	}
	return h.Compensation(ctx, sc)
}

// Registry — реестр обработчиков шагов по имени. Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register регистрирует обработчик.
// Если обработчик с таким именем уже есть, он будет перезаписан.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get возвращает обработчик по имени.
// Возвращает ErrHandlerNotFound, если обработчик не найден.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return h, nil
}

// Has проверяет, зарегистрирован ли обработчик.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names возвращает отсортированный список имён обработчиков.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
