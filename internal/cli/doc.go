// Package cli реализует инструмент командной строки clinic.
//
// # Обзор
//
// CLI — клиентская утилита для административного API конвейера записи.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует HTTP-запросы, парсинг ответов
// (data, list, error) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	rep, err := client.Health()
//
// ## Output
//
// Форматирование вывода: таблицы (text/tabwriter) по умолчанию,
// JSON с флагом --json. Данные выводятся в stdout, сообщения в stderr:
//
//	clinic saga list --json | jq .
//
// ## Commands
//
//   - health: сводное состояние
//   - book: поставить запись в очередь
//   - saga: list, show
//   - dlq: list, redrive
//   - outbox: stats, events, redrive
//   - breaker: list, open, close
package cli
