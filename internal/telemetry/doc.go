// Package telemetry — логирование и метрики сервисов записи.
//
// Содержимое:
//   - logging.go — slog logger (LOG_LEVEL, LOG_FORMAT) и ключи корреляции
//   - metrics.go — Prometheus метрики breaker, saga, DLQ, outbox, idempotency
//
// Метрики nil-safe: компоненты в тестах получают nil *Metrics.
// Бинарники отдают метрики на /metrics своего admin API.
package telemetry
