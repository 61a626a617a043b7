package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/ClinicBooking/internal/booking"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/mq"
)

// handleBooking обрабатывает команду записи из очереди.
//
// Неудачное сообщение передаётся в DLQ-обработчик и подтверждается:
// повтор выполняет DLQ. Ошибка возвращается (nack с requeue), только
// если сообщение не удалось передать в DLQ.
func (w *Worker) handleBooking(ctx context.Context, d *mq.Delivery) error {
	queue := w.bookingQueue()

	out, err := w.processor.Process(ctx, booking.Incoming{
		ID:      d.MessageID,
		Body:    d.Body,
		Payload: d.Payload(),
		Attempt: d.AttemptCount,
		Queue:   queue,
	})
	if err == nil {
		w.logger.Debug("booking message handled",
			"message_id", d.MessageID,
			"outcome", out,
		)
		return nil
	}

	msg := dlq.Message{ID: d.MessageID, Body: d.Body}
	if dlqErr := w.deadLetters.HandleFailedMessage(ctx, msg, err, d.AttemptCount, queue); dlqErr != nil {
		w.logger.Error("failed to hand message to dlq",
			"message_id", d.MessageID,
			"cause", err,
			"error", dlqErr,
		)
		return fmt.Errorf("hand off to dlq: %w", dlqErr)
	}
	return nil
}

// handleDeadLettered принимает сообщение, которое брокер отправил в DLX
// после превышения лимита доставок. Сообщение сразу сохраняется в DLQ.
func (w *Worker) handleDeadLettered(ctx context.Context, d *mq.Delivery) error {
	w.logger.Warn("message dead-lettered by broker",
		"message_id", d.MessageID,
		"attempt", d.AttemptCount,
	)

	msg := dlq.Message{ID: d.MessageID, Body: d.Body}
	cause := domain.Permanent(ErrDeliveryLimit)
	if err := w.deadLetters.HandleFailedMessage(ctx, msg, cause, d.AttemptCount, w.bookingQueue()); err != nil {
		return fmt.Errorf("store dead-lettered message: %w", err)
	}
	return nil
}

func (w *Worker) bookingQueue() string {
	if w.topology.BookingQueue == "" {
		return string(mq.QueueBooking)
	}
	return string(w.topology.BookingQueue)
}
