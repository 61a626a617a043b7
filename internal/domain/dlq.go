package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DLQMessage — сообщение, исчерпавшее попытки обработки.
//
// Создаётся при первой ошибке и дополняется при каждой неудачной
// повторной попытке. Финальная запись сохраняется в dead-letter хранилище.
type DLQMessage struct {
	ID uuid.UUID `json:"id"`

	// MessageID — идентификатор исходного сообщения транспорта (если был).
	MessageID string `json:"message_id,omitempty"`

	// OriginalMessage — непрозрачное тело исходного сообщения.
	OriginalMessage json.RawMessage `json:"original_message"`

	FailureReason string    `json:"failure_reason"`
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`

	OriginalQueueName string `json:"original_queue_name"`
}

// RecordFailure дополняет запись очередной ошибкой.
func (m *DLQMessage) RecordFailure(reason string, attempt int, at time.Time) {
	m.FailureReason = reason
	m.AttemptCount = attempt
	m.LastFailedAt = at
	if m.FirstFailedAt.IsZero() {
		m.FirstFailedAt = at
	}
}
