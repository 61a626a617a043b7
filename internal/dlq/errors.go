package dlq

import "errors"

var (
	// ErrSchedulerStopped — планировщик остановлен, новые повторы не принимаются.
	ErrSchedulerStopped = errors.New("retry scheduler stopped")

	// ErrNoAction — не задано действие для повторной обработки.
	ErrNoAction = errors.New("dlq action is not configured")
)
