package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/ClinicBooking/internal/outbox"
)

// Имена стандартных задач.
const (
	JobOutboxPublish      = "outbox.publish"
	JobOutboxCleanup      = "outbox.cleanup"
	JobOutboxReleaseStuck = "outbox.release_stuck"
	JobOutboxStats        = "outbox.stats"
	JobIdempotencySweep   = "idempotency.sweep"
	JobSagaCleanup        = "saga.cleanup"
)

// Outbox — операции outbox, выполняемые по расписанию.
type Outbox interface {
	ProcessOutboxEvents(ctx context.Context) (outbox.Result, error)
	Cleanup(ctx context.Context) (int64, error)
	ReleaseStuck(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (outbox.Stats, error)
}

// Sweeper удаляет истёкшие записи идемпотентности.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SagaCleaner удаляет завершённые выполнения saga.
type SagaCleaner interface {
	CleanupExecutions(ctx context.Context, olderThan time.Duration) (int, error)
}

// OutboxPublishJob публикует PENDING-события. Только лидер:
// публикатор outbox один на кластер.
func OutboxPublishJob(o Outbox, spec string, logger *slog.Logger) Job {
	return Job{
		Name:       JobOutboxPublish,
		Spec:       spec,
		LeaderOnly: true,
		Run: func(ctx context.Context) error {
			res, err := o.ProcessOutboxEvents(ctx)
			if err != nil {
				return err
			}
			if res.Claimed > 0 {
				logger.Debug("outbox batch processed",
					"claimed", res.Claimed,
					"published", res.Published,
					"retried", res.Retried,
					"failed", res.Failed,
				)
			}
			return nil
		},
	}
}

// OutboxCleanupJob удаляет опубликованные события старше срока хранения.
func OutboxCleanupJob(o Outbox, spec string) Job {
	return Job{
		Name:       JobOutboxCleanup,
		Spec:       spec,
		LeaderOnly: true,
		Run: func(ctx context.Context) error {
			_, err := o.Cleanup(ctx)
			return err
		},
	}
}

// OutboxReleaseStuckJob возвращает в PENDING события, захваченные упавшим публикатором.
func OutboxReleaseStuckJob(o Outbox, spec string) Job {
	return Job{
		Name:       JobOutboxReleaseStuck,
		Spec:       spec,
		LeaderOnly: true,
		Run: func(ctx context.Context) error {
			_, err := o.ReleaseStuck(ctx)
			return err
		},
	}
}

// OutboxStatsJob обновляет метрики backlog outbox.
func OutboxStatsJob(o Outbox, spec string) Job {
	return Job{
		Name: JobOutboxStats,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := o.Stats(ctx)
			return err
		},
	}
}

// IdempotencySweepJob удаляет истёкшие записи идемпотентности.
func IdempotencySweepJob(s Sweeper, spec string) Job {
	return Job{
		Name: JobIdempotencySweep,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		},
	}
}

// SagaCleanupJob удаляет выполнения saga старше retention.
func SagaCleanupJob(c SagaCleaner, retention time.Duration, spec string) Job {
	return Job{
		Name: JobSagaCleanup,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := c.CleanupExecutions(ctx, retention)
			return err
		},
	}
}
