package dlq

import (
	"context"
	"log/slog"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// Alerter уведомляет операторов о сообщении, попавшем в dead-letter.
type Alerter interface {
	Alert(ctx context.Context, m *domain.DLQMessage) error
}

// AlerterFunc — адаптер функции к Alerter.
type AlerterFunc func(ctx context.Context, m *domain.DLQMessage) error

func (f AlerterFunc) Alert(ctx context.Context, m *domain.DLQMessage) error {
	return f(ctx, m)
}

// LogAlerter пишет алерт в лог уровня ERROR.
type LogAlerter struct {
	Logger *slog.Logger
}

func (a LogAlerter) Alert(_ context.Context, m *domain.DLQMessage) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("message moved to dead-letter storage",
		"dlq_id", m.ID,
		"message_id", m.MessageID,
		"queue", m.OriginalQueueName,
		"attempts", m.AttemptCount,
		"reason", m.FailureReason,
		"first_failed_at", m.FirstFailedAt,
	)
	return nil
}

// MultiAlerter вызывает все алертеры; ошибка одного не мешает остальным.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, msg *domain.DLQMessage) error {
	var firstErr error
	for _, a := range m {
		if err := a.Alert(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
