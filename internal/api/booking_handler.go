package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// CreateBooking ставит команду записи в очередь.
// POST /api/v1/bookings
//
// Запрос проверяется синхронно; бизнес-правила (активность психолога,
// конфликт слота) проверяет worker.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	if h.bookings == nil {
		Unavailable(w, "booking publisher is not configured")
		return
	}

	var booking domain.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&booking); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	booking.Normalize()
	if err := booking.Validate(time.Now()); err != nil {
		BadRequest(w, err.Error())
		return
	}

	msgID, err := h.bookings.PublishBooking(r.Context(), booking)
	if err != nil {
		h.logger.Error("failed to publish booking", "psychologist_id", booking.PsychologistID, "error", err)
		Unavailable(w, "booking queue is unavailable")
		return
	}

	h.logger.Info("booking accepted",
		"message_id", msgID,
		"psychologist_id", booking.PsychologistID,
	)
	Accepted(w, BookingAcceptedResponse{MessageID: msgID})
}
