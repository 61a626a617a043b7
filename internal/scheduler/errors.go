package scheduler

import "errors"

var (
	// ErrInvalidSpec — некорректное расписание задачи.
	ErrInvalidSpec = errors.New("invalid schedule spec")

	// ErrUnknownJob — задача с таким именем не зарегистрирована.
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyRunning — Start вызван повторно.
	ErrAlreadyRunning = errors.New("scheduler already running")
)
