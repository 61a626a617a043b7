package saga

import "errors"

// Ошибки saga.
var (
	// ErrHandlerNotFound — обработчик шага не зарегистрирован.
	ErrHandlerNotFound = errors.New("saga step handler not found")

	// ErrInvalidStep — описание шага некорректно.
	ErrInvalidStep = errors.New("invalid saga step")

	// ErrSagaFailed — saga не завершилась успешно.
	// Оборачивает ошибку шага, из-за которой запущена компенсация.
	ErrSagaFailed = errors.New("saga failed")

	// ErrStepTimeout — шаг не уложился в таймаут (временная ошибка).
	ErrStepTimeout = errors.New("saga step timed out")

	// ErrRetryBudgetExceeded — следующий retry превысил бы MaxRetryWait.
	// Временная ошибка: повтор сообщения выполняет DLQ.
	ErrRetryBudgetExceeded = errors.New("saga retry wait budget exceeded")

	// ErrExecutionNotFound — выполнение не найдено в хранилище.
	ErrExecutionNotFound = errors.New("saga execution not found")
)
