// Package breaker реализует circuit breaker для изоляции отказов
// отдельных зависимостей (БД, внешние сервисы, транспорт).
//
// Breaker считает ошибки в состоянии CLOSED и после FailureThreshold
// ошибок переходит в OPEN: вызовы сразу завершаются *OpenError.
// Через RecoveryTimeout первый вызов переводит breaker в HALF_OPEN и
// выполняется; SuccessThreshold успехов подряд закрывают breaker,
// любая ошибка снова открывает его.
//
//	b := breaker.New(breaker.Config{Name: "appointments", FailureThreshold: 5})
//	err := b.Execute(ctx, func(ctx context.Context) error {
//	    return repo.Save(ctx, appt)
//	})
//	if errors.Is(err, breaker.ErrCircuitOpen) {
//	    // зависимость недоступна, вызов не выполнялся
//	}
//
// Registry хранит breaker'ы по именам и отдаёт их снимок для health API.
package breaker
