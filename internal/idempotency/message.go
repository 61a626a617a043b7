package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

// Message — входящее сообщение с точки зрения дедупликации.
type Message struct {
	// ID — идентификатор транспорта. Может быть пустым.
	ID   string
	Body []byte
}

// BodyHash возвращает SHA-256 тела (hex).
func (m Message) BodyHash() string {
	sum := sha256.Sum256(m.Body)
	return hex.EncodeToString(sum[:])
}

// Key возвращает ключ дедупликации: id транспорта, иначе hash тела.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return "sha256:" + m.BodyHash()
}
