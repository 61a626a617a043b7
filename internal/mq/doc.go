// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect; отдельный канал публикации с confirms
//   - topology.go   — объявление exchanges, queues, bindings
//   - envelope.go   — конверт сообщения и разбор legacy-сообщений
//   - publisher.go  — публикация команд записи, уведомлений и событий outbox
//   - consumer.go   — пул потребителей очереди с ручным ack/nack
//
// Типы сообщений:
//   - appointment.book    — запрос на запись к психологу
//   - notification.email  — уведомление пациенту
//
// Exchanges:
//   - clinic.booking        — команды записи
//   - clinic.events         — события outbox (routing key = тип события)
//   - clinic.notifications  — уведомления
//   - clinic.dlx            — брокерный dead-letter
package mq
