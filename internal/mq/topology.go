package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeBooking       Exchange = "clinic.booking"
	ExchangeEvents        Exchange = "clinic.events"
	ExchangeNotifications Exchange = "clinic.notifications"
	ExchangeDLX           Exchange = "clinic.dlx"
)

// Queues — имена очередей.
const (
	QueueBooking       Queue = "appointments.booking"
	QueueEvents        Queue = "appointments.events"
	QueueNotifications Queue = "notifications.email"
)

// Routing keys.
const (
	RoutingKeyBook         RoutingKey = "book"
	RoutingKeyNotification RoutingKey = "email"
	RoutingKeyAllEvents    RoutingKey = "#"
	RoutingKeyDead         RoutingKey = "dead"
)

// Topology — параметры объявления топологии.
type Topology struct {
	// BookingQueue — очередь команд записи (default: appointments.booking).
	BookingQueue Queue
}

func (t Topology) bookingQueue() Queue {
	if t.BookingQueue == "" {
		return QueueBooking
	}
	return t.BookingQueue
}

// DeadQueue — очередь брокерного dead-letter для очереди записи.
func (t Topology) DeadQueue() Queue {
	return t.bookingQueue() + ".dead"
}

// SetupTopology объявляет exchanges, queues и bindings.
// Операции идемпотентны, вызывается при старте каждого процесса.
func SetupTopology(ctx context.Context, conn *Connection, t Topology) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch, t); err != nil {
			return err
		}
		return bindQueues(ch, t)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeBooking, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeNotifications, amqp.ExchangeDirect},
		{ExchangeDLX, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// queueArgs возвращает аргументы очереди записи.
// Quorum-очередь добавляет заголовок x-delivery-count при повторной доставке.
func queueArgs() amqp.Table {
	return amqp.Table{
		amqp.QueueTypeArg:           amqp.QueueTypeQuorum,
		"x-dead-letter-exchange":    string(ExchangeDLX),
		"x-dead-letter-routing-key": string(RoutingKeyDead),
	}
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel, t Topology) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// Команды записи — с брокерным DLX на случай nack без requeue
		{t.bookingQueue(), queueArgs()},

		// События outbox для аудита и внешних подписчиков
		{QueueEvents, nil},

		// Уведомления пациентам
		{QueueNotifications, nil},

		// Брокерный dead-letter
		{t.DeadQueue(), nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel, t Topology) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{t.bookingQueue(), RoutingKeyBook, ExchangeBooking},
		{QueueEvents, RoutingKeyAllEvents, ExchangeEvents},
		{QueueNotifications, RoutingKeyNotification, ExchangeNotifications},
		{t.DeadQueue(), RoutingKeyDead, ExchangeDLX},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo(t Topology) string {
	return fmt.Sprintf(`
  Clinic RabbitMQ Topology:

    %[1]s (direct)
    └── %[2]s [routing: book, quorum]
            Consumer: clinic-worker
            DLX: %[3]s

    %[4]s (topic)
    └── %[5]s [routing: #]
            Outbox events (AppointmentConfirmed, AppointmentDeclined, AppointmentCancelled)

    %[6]s (direct)
    └── %[7]s [routing: email]

    %[8]s (direct)
    └── %[3]s [routing: dead]
            Manual processing
`,
		ExchangeBooking, t.bookingQueue(), t.DeadQueue(),
		ExchangeEvents, QueueEvents,
		ExchangeNotifications, QueueNotifications,
		ExchangeDLX,
	)
}
