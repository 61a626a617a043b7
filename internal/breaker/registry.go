package breaker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — набор именованных breaker'ов, по одному на зависимость.
//
// Все breaker'ы создаются из общего шаблона конфигурации;
// имя подставляется при создании. Потокобезопасен.
type Registry struct {
	template Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry создаёт пустой реестр с шаблоном конфигурации.
func NewRegistry(template Config) *Registry {
	return &Registry{
		template: template,
		breakers: make(map[string]*Breaker),
	}
}

// Get возвращает breaker по имени, создавая его при первом обращении.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg := r.template
	cfg.Name = name
	b = New(cfg)
	r.breakers[name] = b
	return b
}

// Lookup возвращает существующий breaker.
// Возвращает ErrUnknownBreaker, если breaker не создан.
func (r *Registry) Lookup(name string) (*Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}
	return b, nil
}

// Names возвращает отсортированный список имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot возвращает HealthStatus всех breaker'ов.
func (r *Registry) Snapshot() map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.HealthStatus()
	}
	return out
}
