package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/shaiso/ClinicBooking/internal/breaker"
)

// ListBreakers возвращает состояние всех breaker'ов.
// GET /api/v1/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, _ *http.Request) {
	if h.breakers == nil {
		Unavailable(w, "breaker registry is not configured")
		return
	}

	snap := h.breakers.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]BreakerResponse, len(names))
	for i, name := range names {
		result[i] = BreakerResponse{Name: name, HealthStatus: snap[name]}
	}

	List(w, result, len(result))
}

// ForceOpenBreaker принудительно открывает breaker.
// POST /api/v1/breakers/{name}/open
func (h *Handler) ForceOpenBreaker(w http.ResponseWriter, r *http.Request) {
	h.forceBreaker(w, r, (*breaker.Breaker).ForceOpen)
}

// ForceCloseBreaker принудительно закрывает breaker и сбрасывает счётчики.
// POST /api/v1/breakers/{name}/close
func (h *Handler) ForceCloseBreaker(w http.ResponseWriter, r *http.Request) {
	h.forceBreaker(w, r, (*breaker.Breaker).ForceClose)
}

func (h *Handler) forceBreaker(w http.ResponseWriter, r *http.Request, apply func(*breaker.Breaker)) {
	if h.breakers == nil {
		Unavailable(w, "breaker registry is not configured")
		return
	}

	name := chi.URLParam(r, "name")
	b, err := h.breakers.Lookup(name)
	if HandleError(w, h.logger, err, "breaker not found") {
		return
	}

	apply(b)
	status := b.HealthStatus()
	h.logger.Warn("breaker state forced", "breaker", name, "state", status.State)

	Success(w, BreakerResponse{Name: name, HealthStatus: status})
}
