// Package booking — обработка запросов на запись к психологу.
//
// Workflow связывает устойчивые компоненты в один поток:
//
//	сообщение → idempotency.Guard → saga (5 шагов) → outbox
//	                                     ↘ компенсация
//	ошибка → dlq.Handler (retry/dead-letter)
//
// Шаги saga:
//
//  1. validate_patient — пациент по id или создание по email
//  2. validate_psychologist — существует, активен, слот в рабочих часах
//  3. check_conflict — слот свободен
//  4. persist_appointment — запись CONFIRMED + событие в одной транзакции
//     (компенсация: CANCELLED + событие AppointmentCancelled)
//  5. send_notification — уведомление пациенту
//
// Каждое обращение к зависимости проходит через её breaker:
// patients, psychologists, appointments, notifications.
package booking
