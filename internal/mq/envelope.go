package mq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeBookAppointment MessageType = "appointment.book"
	MessageTypeNotification    MessageType = "notification.email"
)

// EnvelopeVersion — текущая версия формата конверта.
const EnvelopeVersion = "1.0"

// Envelope — стандартный конверт сообщения.
type Envelope struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Data          json.RawMessage `json:"data"`
	TraceID       string          `json:"traceId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	RetryCount    *int            `json:"retryCount,omitempty"`
	Priority      *int            `json:"priority,omitempty"`
}

// NewEnvelope создаёт конверт с сериализованными data.
func NewEnvelope(msgType MessageType, source string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope data: %w", err)
	}

	return &Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Version:   EnvelopeVersion,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
	}, nil
}

// ParseEnvelope разбирает тело сообщения.
// Возвращает false для legacy-сообщений без id, type или data.
func ParseEnvelope(body []byte) (*Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}

	data := bytes.TrimSpace(env.Data)
	if env.ID == "" || env.Type == "" || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, false
	}
	return &env, true
}

// Payload возвращает полезную нагрузку сообщения:
// data конверта или всё тело для legacy-сообщения.
func Payload(body []byte) []byte {
	if env, ok := ParseEnvelope(body); ok {
		return env.Data
	}
	return body
}

// DecodeData парсит data конверта в указанный тип.
func DecodeData[T any](env *Envelope) (T, error) {
	var result T
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return result, fmt.Errorf("unmarshal %s data: %w", env.Type, err)
	}
	return result, nil
}
