package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateAppointment — тип агрегата записи.
const AggregateAppointment = "Appointment"

// Типы событий записи.
const (
	EventAppointmentConfirmed = "AppointmentConfirmed"
	EventAppointmentDeclined  = "AppointmentDeclined"
	EventAppointmentCancelled = "AppointmentCancelled"
)

// DefaultOutboxMaxRetries — лимит попыток публикации по умолчанию.
const DefaultOutboxMaxRetries = 5

// OutboxEvent — событие, записанное в той же транзакции,
// что и изменение агрегата.
type OutboxEvent struct {
	ID            uuid.UUID       `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	RetryCount int          `json:"retry_count"`
	MaxRetries int          `json:"max_retries"`
	Status     OutboxStatus `json:"status"`
	Error      string       `json:"error,omitempty"`

	// Version — версия агрегата, к которой относится событие.
	Version int `json:"version"`
}

// NewOutboxEvent создаёт PENDING-событие с сериализованным payload.
func NewOutboxEvent(aggregateType, aggregateID, eventType string, data any, version int) (*OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     raw,
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    DefaultOutboxMaxRetries,
		Status:        OutboxStatusPending,
		Version:       version,
	}, nil
}

// RetriesExhausted сообщает, исчерпан ли лимит публикаций.
func (e *OutboxEvent) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// AppointmentEvent — payload событий записи.
type AppointmentEvent struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PatientID      uuid.UUID `json:"patient_id,omitempty"`
	PsychologistID uuid.UUID `json:"psychologist_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	DurationMin    int       `json:"duration_min"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
}
