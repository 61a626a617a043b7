package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

// Publisher отправляет событие в транспорт сообщений.
type Publisher interface {
	Publish(ctx context.Context, ev *domain.OutboxEvent) error
}

// PublisherFunc — адаптер функции к Publisher.
type PublisherFunc func(ctx context.Context, ev *domain.OutboxEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev *domain.OutboxEvent) error {
	return f(ctx, ev)
}

// Config — конфигурация Outbox.
type Config struct {
	Store     Store
	Publisher Publisher

	// Breaker защищает транспорт. Может быть nil.
	Breaker *breaker.Breaker

	BatchSize      int           // событий за один проход (default: 100)
	MaxRetries     int           // лимит публикаций для новых событий (default: 5)
	Retention      time.Duration // хранение PROCESSED (default: 30 дней)
	StuckAfter     time.Duration // когда PROCESSING считается зависшим (default: 5m)
	PublishTimeout time.Duration // таймаут одной публикации (default: 10s)

	Now     func() time.Time
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Outbox — транзакционный outbox.
type Outbox struct {
	store     Store
	publisher Publisher
	breaker   *breaker.Breaker

	batchSize      int
	maxRetries     int
	retention      time.Duration
	stuckAfter     time.Duration
	publishTimeout time.Duration

	now     func() time.Time
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New создаёт Outbox.
func New(cfg Config) *Outbox {
	o := &Outbox{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		breaker:        cfg.Breaker,
		batchSize:      cfg.BatchSize,
		maxRetries:     cfg.MaxRetries,
		retention:      cfg.Retention,
		stuckAfter:     cfg.StuckAfter,
		publishTimeout: cfg.PublishTimeout,
		now:            cfg.Now,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
	if o.batchSize <= 0 {
		o.batchSize = 100
	}
	if o.maxRetries <= 0 {
		o.maxRetries = domain.DefaultOutboxMaxRetries
	}
	if o.retention <= 0 {
		o.retention = 30 * 24 * time.Hour
	}
	if o.stuckAfter <= 0 {
		o.stuckAfter = 5 * time.Minute
	}
	if o.publishTimeout <= 0 {
		o.publishTimeout = 10 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// StoreEvent записывает событие.
//
// Должен вызываться с ctx транзакции (repo.TxManager.WithTx), в которой
// выполняется бизнес-запись: при откате событие не сохраняется.
func (o *Outbox) StoreEvent(ctx context.Context, ev *domain.OutboxEvent) error {
	if ev == nil || ev.AggregateID == "" || ev.AggregateType == "" || ev.EventType == "" {
		return ErrInvalidEvent
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = o.now().UTC()
	}
	if ev.MaxRetries <= 0 {
		ev.MaxRetries = o.maxRetries
	}
	if ev.Status == "" {
		ev.Status = domain.OutboxStatusPending
	}
	if ev.EventData == nil {
		ev.EventData = []byte("{}")
	}

	if err := o.store.Insert(ctx, ev); err != nil {
		return fmt.Errorf("store outbox event %s: %w", ev.EventType, err)
	}

	telemetry.FromContext(ctx).Debug("outbox event stored",
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"aggregate_id", ev.AggregateID,
	)
	return nil
}

// Result — итог одного прохода публикатора.
type Result struct {
	Claimed   int `json:"claimed"`
	Published int `json:"published"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
}

// ProcessOutboxEvents публикует пачку PENDING-событий.
//
// 1. Захватывает до BatchSize событий (PENDING → PROCESSING) в порядке создания
// 2. Публикует каждое через breaker
// 3. Успех → PROCESSED; ошибка → PENDING с retryCount+1 или FAILED при исчерпании
//
// Пока breaker открыт, события возвращаются в PENDING без расхода попыток.
// Ошибки одного события не блокируют обработку остальных.
func (o *Outbox) ProcessOutboxEvents(ctx context.Context) (Result, error) {
	var res Result

	if o.breaker != nil && !o.breaker.CanExecute() {
		o.logger.Debug("outbox publish skipped, transport breaker open")
		return res, nil
	}

	events, err := o.store.ClaimPending(ctx, o.batchSize)
	if err != nil {
		return res, fmt.Errorf("claim outbox events: %w", err)
	}
	res.Claimed = len(events)
	if len(events) == 0 {
		return res, nil
	}

	for i, ev := range events {
		if ctx.Err() != nil {
			res.Released += o.release(ctx, events[i:], "publisher stopped")
			break
		}

		pubErr := o.publish(ctx, ev)
		if errors.Is(pubErr, breaker.ErrCircuitOpen) {
			res.Released += o.release(ctx, events[i:], pubErr.Error())
			break
		}

		outcome, err := o.settle(ctx, ev, pubErr)
		if err != nil {
			o.logger.Error("failed to update outbox event",
				"event_id", ev.ID,
				"event_type", ev.EventType,
				"error", err,
			)
			continue
		}

		switch outcome {
		case "published":
			res.Published++
		case "retry":
			res.Retried++
		case "failed":
			res.Failed++
		}
		o.metrics.OutboxPublish(outcome)
	}

	o.logger.Info("outbox batch processed",
		"claimed", res.Claimed,
		"published", res.Published,
		"retried", res.Retried,
		"failed", res.Failed,
		"released", res.Released,
	)
	return res, nil
}

func (o *Outbox) publish(ctx context.Context, ev *domain.OutboxEvent) error {
	op := func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, o.publishTimeout)
		defer cancel()
		return o.publisher.Publish(pctx, ev)
	}
	if o.breaker == nil {
		return op(ctx)
	}
	return o.breaker.Execute(ctx, op)
}

// settle фиксирует результат публикации.
func (o *Outbox) settle(ctx context.Context, ev *domain.OutboxEvent, pubErr error) (string, error) {
	if pubErr == nil {
		return "published", o.store.MarkProcessed(ctx, ev.ID, o.now().UTC())
	}

	ev.RetryCount++
	if ev.RetriesExhausted() {
		o.logger.Error("outbox event failed permanently",
			"event_id", ev.ID,
			"event_type", ev.EventType,
			"attempts", ev.RetryCount,
			"error", pubErr,
		)
		return "failed", o.store.MarkFailed(ctx, ev.ID, ev.RetryCount, pubErr.Error())
	}

	o.logger.Warn("outbox publish failed, will retry",
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"attempt", ev.RetryCount,
		"max_retries", ev.MaxRetries,
		"error", pubErr,
	)
	return "retry", o.store.MarkRetry(ctx, ev.ID, ev.RetryCount, pubErr.Error())
}

// release возвращает захваченные события в PENDING без изменения счётчика.
func (o *Outbox) release(ctx context.Context, events []*domain.OutboxEvent, reason string) int {
	// Отпускаем даже при отменённом ctx, иначе события зависнут до ReleaseStuck.
	ctx = context.WithoutCancel(ctx)

	var n int
	for _, ev := range events {
		if err := o.store.MarkRetry(ctx, ev.ID, ev.RetryCount, reason); err != nil {
			o.logger.Error("failed to release outbox event", "event_id", ev.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// Cleanup удаляет PROCESSED-события старше Retention.
func (o *Outbox) Cleanup(ctx context.Context) (int64, error) {
	n, err := o.store.DeleteProcessedBefore(ctx, o.now().Add(-o.retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	if n > 0 {
		o.logger.Info("outbox cleanup completed", "deleted", n)
	}
	return n, nil
}

// Redrive возвращает до limit FAILED-событий в очередь публикации.
func (o *Outbox) Redrive(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = o.batchSize
	}
	n, err := o.store.RequeueFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("redrive outbox: %w", err)
	}
	o.logger.Info("outbox redrive completed", "requeued", n)
	return n, nil
}

// ReleaseStuck возвращает в PENDING события, захваченные упавшим публикатором.
func (o *Outbox) ReleaseStuck(ctx context.Context) (int64, error) {
	n, err := o.store.ReleaseStuck(ctx, o.now().Add(-o.stuckAfter))
	if err != nil {
		return 0, fmt.Errorf("release stuck outbox events: %w", err)
	}
	if n > 0 {
		o.logger.Warn("released stuck outbox events", "count", n)
	}
	return n, nil
}

// Stats — число событий по статусам.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
}

// Stats возвращает размер backlog и обновляет метрики.
func (o *Outbox) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("outbox stats: %w", err)
	}

	st := Stats{
		Pending:    counts[domain.OutboxStatusPending],
		Processing: counts[domain.OutboxStatusProcessing],
		Processed:  counts[domain.OutboxStatusProcessed],
		Failed:     counts[domain.OutboxStatusFailed],
	}
	o.metrics.OutboxBacklog(string(domain.OutboxStatusPending), st.Pending)
	o.metrics.OutboxBacklog(string(domain.OutboxStatusProcessing), st.Processing)
	o.metrics.OutboxBacklog(string(domain.OutboxStatusProcessed), st.Processed)
	o.metrics.OutboxBacklog(string(domain.OutboxStatusFailed), st.Failed)
	return st, nil
}

// List возвращает события для инспекции оператором.
func (o *Outbox) List(ctx context.Context, status domain.OutboxStatus, limit int) ([]*domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = o.batchSize
	}
	return o.store.List(ctx, status, limit)
}
