package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaiso/ClinicBooking/internal/saga"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListSagas возвращает выполнения saga.
// GET /api/v1/sagas?status=...&limit=...
func (h *Handler) ListSagas(w http.ResponseWriter, r *http.Request) {
	if h.sagas == nil {
		Unavailable(w, "saga orchestrator is not configured")
		return
	}

	limit, ok := queryLimit(r, defaultListLimit, maxListLimit)
	if !ok {
		BadRequest(w, "invalid limit")
		return
	}

	var (
		execs []*saga.Execution
		err   error
	)
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := saga.ParseStatus(s)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		execs, err = h.sagas.GetExecutionsByStatus(r.Context(), status)
	} else {
		execs, err = h.sagas.GetAllExecutions(r.Context())
	}
	if HandleError(w, h.logger, err, "") {
		return
	}

	// Новые выполнения первыми
	total := len(execs)
	result := make([]SagaResponse, 0, min(total, limit))
	for i := total - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, SagaFromDomain(execs[i]))
	}

	List(w, result, total)
}

// GetSaga возвращает выполнение saga по ID.
// GET /api/v1/sagas/{id}
func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	if h.sagas == nil {
		Unavailable(w, "saga orchestrator is not configured")
		return
	}

	exec, err := h.sagas.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if HandleError(w, h.logger, err, "saga not found") {
		return
	}

	Success(w, SagaFromDomain(exec))
}
