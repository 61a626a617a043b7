package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// ErrNotConfirmed — брокер отклонил сообщение (basic.nack).
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Publisher публикует сообщения в RabbitMQ с подтверждением брокера.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	source string
}

// NewPublisher создаёт новый Publisher. source попадает в конверт сообщений.
func NewPublisher(conn *Connection, logger *slog.Logger, source string) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		source: source,
	}
}

// Send публикует сообщение и ждёт подтверждения брокера.
func (p *Publisher) Send(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg amqp.Publishing) error {
	return p.conn.withPublishChannel(func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			true,               // mandatory: сообщение без очереди вернётся
			false,              // immediate
			msg,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		ok, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("wait confirm %s/%s: %w", exchange, routingKey, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrNotConfirmed, exchange, routingKey)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.MessageId,
			"type", msg.Type,
		)
		return nil
	})
}

// SendEnvelope публикует конверт.
func (p *Publisher) SendEnvelope(ctx context.Context, exchange Exchange, routingKey RoutingKey, env *Envelope, headers amqp.Table) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return p.Send(ctx, exchange, routingKey, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Type:          string(env.Type),
		Timestamp:     env.Timestamp,
		Headers:       headers,
		Body:          body,
	})
}

// PublishBooking ставит запрос на запись в очередь.
// Возвращает id сообщения.
func (p *Publisher) PublishBooking(ctx context.Context, req domain.BookingRequest) (string, error) {
	env, err := NewEnvelope(MessageTypeBookAppointment, p.source, req)
	if err != nil {
		return "", err
	}
	if req.AppointmentID != uuid.Nil {
		env.CorrelationID = req.AppointmentID.String()
	}

	if err := p.SendEnvelope(ctx, ExchangeBooking, RoutingKeyBook, env, bookingHeaders(env.ID, req)); err != nil {
		return "", err
	}
	return env.ID, nil
}

// bookingHeaders — группировка по ресурсу и id дедупликации.
func bookingHeaders(messageID string, req domain.BookingRequest) amqp.Table {
	return amqp.Table{
		"x-group-id":         req.ResourceKey(),
		"x-deduplication-id": messageID,
	}
}

// Notification — уведомление пациенту.
type Notification struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Email         string    `json:"email,omitempty"`
	Template      string    `json:"template"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

// PublishNotification отправляет уведомление.
// MessageId детерминирован, поэтому повтор шага не порождает новое уведомление
// у потребителя с дедупликацией.
func (p *Publisher) PublishNotification(ctx context.Context, n Notification) error {
	env, err := NewEnvelope(MessageTypeNotification, p.source, n)
	if err != nil {
		return err
	}
	env.ID = n.AppointmentID.String() + ":" + n.Template
	env.CorrelationID = n.AppointmentID.String()

	return p.SendEnvelope(ctx, ExchangeNotifications, RoutingKeyNotification, env, nil)
}

// EventPublisher публикует события outbox в exchange событий.
type EventPublisher struct {
	p *Publisher
}

// NewEventPublisher создаёт EventPublisher.
func NewEventPublisher(p *Publisher) *EventPublisher {
	return &EventPublisher{p: p}
}

// Publish публикует событие outbox. Routing key — тип события.
func (e *EventPublisher) Publish(ctx context.Context, ev *domain.OutboxEvent) error {
	return e.p.Send(ctx, ExchangeEvents, RoutingKey(ev.EventType), EventPublishing(ev))
}

// EventPublishing строит AMQP-сообщение для события outbox.
// MessageId = id события: потребители дедуплицируют повторную публикацию.
func EventPublishing(ev *domain.OutboxEvent) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     ev.ID.String(),
		CorrelationId: ev.AggregateID,
		Type:          ev.EventType,
		Timestamp:     ev.CreatedAt,
		Headers: amqp.Table{
			"x-aggregate-type": ev.AggregateType,
			"x-event-version":  strconv.Itoa(ev.Version),
		},
		Body: ev.EventData,
	}
}
