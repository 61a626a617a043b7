package idempotency

import "errors"

var (
	// ErrRecordNotFound — запись идемпотентности отсутствует или истекла.
	ErrRecordNotFound = errors.New("idempotency record not found")

	// ErrDuplicate — сообщение уже успешно обработано.
	ErrDuplicate = errors.New("message already processed")

	// ErrInFlight — сообщение прямо сейчас обрабатывает другой воркер.
	ErrInFlight = errors.New("message is being processed")
)
