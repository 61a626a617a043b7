package outbox

import "errors"

// ErrInvalidEvent — событие не содержит обязательных полей.
var ErrInvalidEvent = errors.New("invalid outbox event")
