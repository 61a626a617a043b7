package config

import "errors"

// ErrInvalidConfig — значение конфигурации недопустимо.
var ErrInvalidConfig = errors.New("invalid config")
