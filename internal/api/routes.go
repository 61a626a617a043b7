package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router возвращает маршрутизатор со всеми маршрутами API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Recovery(h.logger))
	r.Use(Logging(h.logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowed(w)
	})

	// Health и metrics
	r.Get("/healthz", h.Liveness)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Bookings
		r.Post("/bookings", h.CreateBooking)

		// Sagas
		r.Get("/sagas", h.ListSagas)
		r.Get("/sagas/{id}", h.GetSaga)

		// DLQ
		r.Get("/dlq", h.ListDeadLetters)
		r.Post("/dlq/redrive", h.RedriveDeadLetters)

		// Outbox
		r.Get("/outbox/stats", h.OutboxStats)
		r.Get("/outbox/events", h.ListOutboxEvents)
		r.Post("/outbox/redrive", h.RedriveOutbox)

		// Breakers
		r.Get("/breakers", h.ListBreakers)
		r.Post("/breakers/{name}/open", h.ForceOpenBreaker)
		r.Post("/breakers/{name}/close", h.ForceCloseBreaker)
	})

	return r
}
