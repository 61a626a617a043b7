package api

import (
	"net/http"
)

// Liveness отвечает, что процесс жив.
// GET /healthz
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Health возвращает сводный отчёт о состоянии.
// GET /health
//
// 200 — все компоненты здоровы, 503 — хотя бы один деградировал.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		Unavailable(w, "health checker is not configured")
		return
	}

	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, report)
}
