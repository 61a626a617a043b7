// Package dlq обрабатывает сообщения, чья обработка завершилась ошибкой.
//
// Handler реализует замкнутый цикл повторов:
//
//	HandleFailedMessage(attempt)
//	  attempt >= MaxRetries → dead-letter хранилище + Alerter
//	  иначе → RetryScheduler через min(base*2^(attempt-1), maxDelay)
//	    → Action через breaker
//	      успех → конец
//	      ошибка → HandleFailedMessage(attempt+1)
//
// Повторы не блокируют воркер: TimerScheduler использует time.AfterFunc,
// RedisScheduler хранит задачи в sorted set и выполняет их в PumpRetries.
//
// ProcessDLQMessages — ручной redrive сообщений из хранилища с ограничением
// скорости (golang.org/x/time/rate). Неудачный redrive обновляет метаданные
// ошибки, но не возвращает сообщение в цикл повторов.
package dlq
