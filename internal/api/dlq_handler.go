package api

import (
	"net/http"
)

// ListDeadLetters возвращает сообщения из dead-letter хранилища.
// GET /api/v1/dlq?limit=...
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		Unavailable(w, "dlq handler is not configured")
		return
	}

	limit, ok := queryLimit(r, defaultListLimit, maxListLimit)
	if !ok {
		BadRequest(w, "invalid limit")
		return
	}

	msgs, err := h.deadLetters.List(r.Context(), limit)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]DeadLetterResponse, len(msgs))
	for i, m := range msgs {
		result[i] = DeadLetterFromDomain(m)
	}

	List(w, result, len(result))
}

// RedriveDeadLetters повторно обрабатывает сообщения из хранилища.
// POST /api/v1/dlq/redrive
func (h *Handler) RedriveDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		Unavailable(w, "dlq handler is not configured")
		return
	}

	res, err := h.deadLetters.ProcessDLQMessages(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("dlq redrive finished", "processed", res.Processed, "errors", res.Errors)
	Success(w, res)
}
