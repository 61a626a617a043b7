package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/saga"
)

// Booking DTOs

// BookingAcceptedResponse — команда записи принята в очередь.
type BookingAcceptedResponse struct {
	MessageID string `json:"message_id"`
}

// Saga DTOs

// SagaResponse — ответ с выполнением saga.
type SagaResponse struct {
	SagaID         string            `json:"saga_id"`
	Name           string            `json:"name"`
	Status         saga.Status       `json:"status"`
	CurrentStep    string            `json:"current_step,omitempty"`
	CompletedSteps []string          `json:"completed_steps"`
	RetryCount     int               `json:"retry_count"`
	Steps          []saga.StepRecord `json:"steps,omitempty"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// SagaFromDomain конвертирует saga.Execution в SagaResponse.
func SagaFromDomain(e *saga.Execution) SagaResponse {
	resp := SagaResponse{
		SagaID:      e.SagaID,
		Name:        e.Name,
		Status:      e.Status,
		Steps:       e.Steps,
		Error:       e.Error,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
	if e.Context != nil {
		resp.CurrentStep = e.Context.CurrentStep
		resp.CompletedSteps = e.Context.CompletedSteps
		resp.RetryCount = e.Context.RetryCount
	}
	if resp.CompletedSteps == nil {
		resp.CompletedSteps = []string{}
	}
	return resp
}

// DLQ DTOs

// DeadLetterResponse — ответ с сообщением из DLQ.
//
// Тело, не являющееся JSON, отдаётся строкой в original_message_text.
type DeadLetterResponse struct {
	ID                  uuid.UUID       `json:"id"`
	MessageID           string          `json:"message_id,omitempty"`
	OriginalMessage     json.RawMessage `json:"original_message,omitempty"`
	OriginalMessageText string          `json:"original_message_text,omitempty"`
	FailureReason       string          `json:"failure_reason"`
	AttemptCount        int             `json:"attempt_count"`
	FirstFailedAt       time.Time       `json:"first_failed_at"`
	LastFailedAt        time.Time       `json:"last_failed_at"`
	OriginalQueueName   string          `json:"original_queue_name"`
}

// DeadLetterFromDomain конвертирует domain.DLQMessage в DeadLetterResponse.
func DeadLetterFromDomain(m *domain.DLQMessage) DeadLetterResponse {
	resp := DeadLetterResponse{
		ID:                m.ID,
		MessageID:         m.MessageID,
		FailureReason:     m.FailureReason,
		AttemptCount:      m.AttemptCount,
		FirstFailedAt:     m.FirstFailedAt,
		LastFailedAt:      m.LastFailedAt,
		OriginalQueueName: m.OriginalQueueName,
	}
	if json.Valid(m.OriginalMessage) {
		resp.OriginalMessage = m.OriginalMessage
	} else {
		resp.OriginalMessageText = string(m.OriginalMessage)
	}
	return resp
}

// Outbox DTOs

// RedriveResponse — результат redrive.
type RedriveResponse struct {
	Requeued int64 `json:"requeued"`
}

// Breaker DTOs

// BreakerResponse — ответ с состоянием breaker'а.
type BreakerResponse struct {
	Name string `json:"name"`
	breaker.HealthStatus
}
