// Package saga реализует оркестратор saga с компенсацией.
//
// # Обзор
//
// Saga — многошаговая бизнес-транзакция без общей ACID-границы.
// Каждый шаг имеет действие и компенсацию; если шаг завершается
// неустранимой ошибкой, уже выполненные шаги компенсируются в
// обратном порядке.
//
// # Шаги и обработчики
//
// Step — сериализуемое описание шага. Поле Handler ссылается на
// обработчик в Registry:
//
//	reg := saga.NewRegistry()
//	reg.Register("validate_psychologist", saga.HandlerFuncs{
//	    Action: func(ctx context.Context, sc *saga.Context) (any, error) {
//	        return nil, svc.CheckPsychologist(ctx, sc.GetString("psychologist_id"))
//	    },
//	})
//
//	steps := []saga.Step{
//	    {ID: "validate_psychologist", Handler: "validate_psychologist"},
//	    {ID: "persist", Handler: "persist_appointment", Retryable: true, MaxRetries: 2},
//	}
//
//	exec, err := orch.ExecuteSaga(ctx, "book_appointment", steps, data)
//
// # Retry
//
// Retryable-шаг с временной ошибкой повторяется до MaxRetries раз
// с задержкой BackoffBase * 2^attempt (по умолчанию 2s, 4s, 8s...).
// Ошибки, помеченные domain.Permanent, не повторяются.
// MaxRetryWait ограничивает суммарное ожидание в одном выполнении:
// воркер не простаивает дольше предела, остальные повторы планирует DLQ.
// Таймаут шага считается временной ошибкой (ErrStepTimeout).
//
// # Статусы
//
//	PENDING → IN_PROGRESS → COMPLETED
//	                      ↘ COMPENSATING → COMPENSATED
//	                      ↘ FAILED
//
// FAILED означает, что ни один шаг не был начат (неизвестный
// обработчик, отмена до первого шага). Если хотя бы один шаг
// начинался, итог — COMPENSATED, даже если компенсировать нечего.
//
// # Хранилище
//
// ExecutionStore — подключаемое хранилище выполнений:
// MemoryStore для одного процесса, RedisStore для TTL-хранения
// вне процесса. CleanupExecutions удаляет старые финальные записи.
package saga
