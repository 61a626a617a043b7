package domain

import "time"

// IdempotencyRecord — отметка о том, что сообщение уже обрабатывалось.
type IdempotencyRecord struct {
	// MessageKey — id сообщения транспорта или hash тела.
	MessageKey string `json:"message_key"`

	// BodyHash — SHA-256 тела сообщения (hex).
	BodyHash string `json:"body_hash"`

	ProcessedAt time.Time        `json:"processed_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Result      ProcessingResult `json:"result"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsExpired сообщает, истёк ли TTL записи.
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
