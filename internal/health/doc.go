// Package health собирает состояние устойчивых компонентов
// для health-эндпоинтов и CLI.
//
// Checker опрашивает источники:
//   - breaker'ы — худший становится circuitBreaker, все перечислены в circuitBreakers
//   - saga — число выполнений и разбивка по статусам
//   - DLQ — HealthStatus обработчика
//   - outbox — число событий по статусам
//
// Report.Healthy() ложно, если хотя бы один breaker не CLOSED, DLQ
// нездоров или источник вернул ошибку. Источник nil пропускается.
package health
