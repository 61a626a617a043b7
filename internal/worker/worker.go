package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/ClinicBooking/internal/booking"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = time.Second
	defaultConcurrency  = 4
)

// Processor обрабатывает запрос на запись. Реализация: booking.Workflow.
type Processor interface {
	Process(ctx context.Context, in booking.Incoming) (booking.Outcome, error)
}

// DeadLetters принимает сообщения, обработка которых не удалась.
// Реализация: dlq.Handler.
type DeadLetters interface {
	HandleFailedMessage(ctx context.Context, msg dlq.Message, cause error, attemptCount int, queue string) error
	PumpRetries(ctx context.Context) (int, error)
}

// Worker потребляет команды записи из RabbitMQ.
//
// Worker — stateless компонент, который:
//   - Получает сообщения из очереди записи пулом обработчиков
//   - Передаёт каждое сообщение в booking.Workflow
//   - Отдаёт неудачные сообщения в DLQ-обработчик и подтверждает их
//   - Принимает сообщения брокерного dead-letter (превышен лимит доставок)
//   - Периодически забирает созревшие повторы DLQ (polling)
//
// Несколько экземпляров могут потреблять из одной очереди.
type Worker struct {
	processor   Processor
	deadLetters DeadLetters

	conn     *mq.Connection
	topology mq.Topology

	consumers []*mq.Consumer

	concurrency  int
	pollInterval time.Duration

	metrics    *telemetry.Metrics
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Processor   Processor
	DeadLetters DeadLetters

	// MQ
	Conn     *mq.Connection
	Topology mq.Topology

	Concurrency  int           // параллельных обработчиков (default: 4)
	PollInterval time.Duration // интервал забора повторов DLQ (default: 1s)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		processor:    cfg.Processor,
		deadLetters:  cfg.DeadLetters,
		conn:         cfg.Conn,
		topology:     cfg.Topology,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer очереди записи
//   - Consumer очереди брокерного dead-letter
//   - Polling горутину повторов DLQ
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	bookingQueue := mq.Queue(w.bookingQueue())

	w.logger.Info("starting worker",
		"queue", bookingQueue,
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
	)

	w.consumers = []*mq.Consumer{
		mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:       bookingQueue,
			Handler:     w.handleBooking,
			Concurrency: w.concurrency,
		}),
		mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:   w.topology.DeadQueue(),
			Handler: w.handleDeadLettered,
		}),
	}

	for _, c := range w.consumers {
		c := c
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт дообработки текущих сообщений.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	for _, c := range w.consumers {
		c.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop периодически забирает созревшие повторы DLQ.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: повторы, созревшие пока воркер был выключен
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	n, err := w.deadLetters.PumpRetries(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to pump dlq retries", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Debug("dlq retries pumped", "count", n)
	}
}
