// Package api содержит административный HTTP API.
//
// Структура:
//   - handler.go         — Handler с DI (компоненты конвейера, logger)
//   - routes.go          — маршруты chi
//   - middleware.go      — middleware (logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects
//   - *_handler.go       — обработчики по ресурсам
//
// Маршруты:
//
//	GET  /healthz                        — liveness
//	GET  /health                         — сводное состояние (200/503)
//	GET  /metrics                        — метрики Prometheus
//	POST /api/v1/bookings                — поставить запись в очередь
//	GET  /api/v1/sagas[/{id}]            — выполнения saga
//	GET  /api/v1/dlq                     — dead-letter хранилище
//	POST /api/v1/dlq/redrive             — повторная обработка DLQ
//	GET  /api/v1/outbox/stats|events     — backlog outbox
//	POST /api/v1/outbox/redrive          — FAILED -> PENDING
//	GET  /api/v1/breakers                — состояние breaker'ов
//	POST /api/v1/breakers/{name}/open|close
package api
