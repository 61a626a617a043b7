package api

import (
	"net/http"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// OutboxStats возвращает размер backlog по статусам.
// GET /api/v1/outbox/stats
func (h *Handler) OutboxStats(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		Unavailable(w, "outbox is not configured")
		return
	}

	stats, err := h.outbox.Stats(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	Success(w, stats)
}

// ListOutboxEvents возвращает события outbox.
// GET /api/v1/outbox/events?status=...&limit=...
func (h *Handler) ListOutboxEvents(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		Unavailable(w, "outbox is not configured")
		return
	}

	limit, ok := queryLimit(r, defaultListLimit, maxListLimit)
	if !ok {
		BadRequest(w, "invalid limit")
		return
	}

	var status domain.OutboxStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok = domain.ParseOutboxStatus(s)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
	}

	events, err := h.outbox.List(r.Context(), status, limit)
	if HandleError(w, h.logger, err, "") {
		return
	}

	if events == nil {
		events = []*domain.OutboxEvent{}
	}
	List(w, events, len(events))
}

// RedriveOutbox возвращает FAILED-события в PENDING.
// POST /api/v1/outbox/redrive?limit=...
func (h *Handler) RedriveOutbox(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		Unavailable(w, "outbox is not configured")
		return
	}

	limit, ok := queryLimit(r, defaultListLimit, maxListLimit)
	if !ok {
		BadRequest(w, "invalid limit")
		return
	}

	n, err := h.outbox.Redrive(r.Context(), limit)
	if HandleError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("outbox redrive finished", "requeued", n)
	Success(w, RedriveResponse{Requeued: n})
}
