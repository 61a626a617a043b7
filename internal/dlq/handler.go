package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

// Стратегии задержки между повторами.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// Message — исходное сообщение транспорта.
type Message struct {
	ID   string `json:"id,omitempty"`
	Body []byte `json:"body"`
}

// Action — исходная обработка сообщения, которую повторяет Handler.
type Action func(ctx context.Context, msg Message) error

// Config — конфигурация Handler.
type Config struct {
	MaxRetries   int           // порог dead-letter (default: 3)
	BaseDelay    time.Duration // базовая задержка (default: 1s)
	MaxDelay     time.Duration // верхняя граница задержки (default: 30s)
	Backoff      string        // exponential | fixed (default: exponential)
	RedriveRate  float64       // сообщений в секунду для ProcessDLQMessages (<= 0 — без ограничения)
	RedriveBatch int           // сообщений за один redrive (default: 100)

	Action    Action
	Store     Store
	Scheduler RetryScheduler
	Alerter   Alerter

	// Breaker — собственный breaker обработчика. Если nil, создаётся breaker "dlq".
	Breaker *breaker.Breaker

	Now     func() time.Time
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Handler — обработчик сообщений, чья обработка завершилась ошибкой.
//
// Пока attemptCount < MaxRetries, планирует повтор с задержкой;
// затем сохраняет сообщение в dead-letter хранилище и вызывает Alerter.
// Повтор выполняется через собственный breaker, поэтому при открытом
// breaker повторы падают быстро и не нагружают зависимость.
type Handler struct {
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	backoff      string
	redriveBatch int

	action    Action
	store     Store
	scheduler RetryScheduler
	alerter   Alerter
	breaker   *breaker.Breaker
	limiter   *rate.Limiter

	now     func() time.Time
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New создаёт Handler.
func New(cfg Config) *Handler {
	h := &Handler{
		maxRetries:   cfg.MaxRetries,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		backoff:      cfg.Backoff,
		redriveBatch: cfg.RedriveBatch,
		action:       cfg.Action,
		store:        cfg.Store,
		scheduler:    cfg.Scheduler,
		alerter:      cfg.Alerter,
		breaker:      cfg.Breaker,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}

	if h.maxRetries <= 0 {
		h.maxRetries = 3
	}
	if h.baseDelay <= 0 {
		h.baseDelay = time.Second
	}
	if h.maxDelay <= 0 {
		h.maxDelay = 30 * time.Second
	}
	if h.backoff == "" {
		h.backoff = BackoffExponential
	}
	if h.redriveBatch <= 0 {
		h.redriveBatch = 100
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.store == nil {
		h.store = NewMemoryStore()
	}
	if h.scheduler == nil {
		h.scheduler = NewTimerScheduler()
	}
	if h.alerter == nil {
		h.alerter = LogAlerter{Logger: h.logger}
	}
	if h.breaker == nil {
		h.breaker = breaker.New(breaker.Config{Name: "dlq", Logger: h.logger})
	}

	limit := rate.Inf
	if cfg.RedriveRate > 0 {
		limit = rate.Limit(cfg.RedriveRate)
	}
	h.limiter = rate.NewLimiter(limit, 1)

	return h
}

// SetAction задаёт действие повтора. Нужен, когда действие
// создаётся после Handler (workflow зависит от Handler и наоборот).
func (h *Handler) SetAction(a Action) {
	h.action = a
}

// Breaker возвращает breaker обработчика.
func (h *Handler) Breaker() *breaker.Breaker { return h.breaker }

// HandleFailedMessage обрабатывает неудачную обработку сообщения.
//
// attemptCount — номер неудавшейся попытки (с 1). Постоянные ошибки
// (domain.IsPermanent) отправляются в dead-letter сразу.
func (h *Handler) HandleFailedMessage(ctx context.Context, msg Message, cause error, attemptCount int, queue string) error {
	if attemptCount < 1 {
		attemptCount = 1
	}
	task := RetryTask{
		ID:            uuid.New(),
		Message:       msg,
		Reason:        errString(cause),
		Attempt:       attemptCount,
		Queue:         queue,
		FirstFailedAt: h.now().UTC(),
	}

	if domain.IsPermanent(cause) {
		return h.deadLetter(ctx, task)
	}
	return h.handle(ctx, task)
}

// handle — общий шаг цикла: повтор или dead-letter.
func (h *Handler) handle(ctx context.Context, task RetryTask) error {
	if task.Attempt >= h.maxRetries {
		return h.deadLetter(ctx, task)
	}

	delay := h.Delay(task.Attempt)
	if err := h.scheduler.Schedule(ctx, task, delay, h.retry); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	h.metrics.DLQRetryScheduled(task.Queue)
	h.logger.Warn("message retry scheduled",
		"message_id", task.Message.ID,
		"queue", task.Queue,
		"attempt", task.Attempt,
		"max_retries", h.maxRetries,
		"delay", delay,
		"reason", task.Reason,
	)
	return nil
}

// Delay возвращает задержку перед повтором после попытки attempt.
//
// exponential: min(base * 2^(attempt-1), maxDelay); fixed: base.
func (h *Handler) Delay(attempt int) time.Duration {
	if h.backoff != BackoffExponential {
		return h.baseDelay
	}

	delay := h.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= h.maxDelay {
			return h.maxDelay
		}
	}
	if delay > h.maxDelay {
		delay = h.maxDelay
	}
	return delay
}

// retry повторно выполняет исходное действие через breaker.
// Ошибка возвращает сообщение в цикл с attempt+1.
func (h *Handler) retry(ctx context.Context, task RetryTask) {
	err := h.execute(ctx, task.Message)
	if err == nil {
		h.logger.Info("message retry succeeded",
			"message_id", task.Message.ID,
			"queue", task.Queue,
			"attempt", task.Attempt+1,
		)
		return
	}

	task.Attempt++
	task.Reason = err.Error()

	var herr error
	if domain.IsPermanent(err) {
		herr = h.deadLetter(ctx, task)
	} else {
		herr = h.handle(ctx, task)
	}
	if herr != nil {
		h.logger.Error("failed to handle retry failure",
			"message_id", task.Message.ID,
			"attempt", task.Attempt,
			"error", herr,
		)
	}
}

func (h *Handler) execute(ctx context.Context, msg Message) error {
	if h.action == nil {
		return ErrNoAction
	}
	return h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.action(ctx, msg)
	})
}

// deadLetter сохраняет сообщение и поднимает алерт.
func (h *Handler) deadLetter(ctx context.Context, task RetryTask) error {
	now := h.now().UTC()
	m := &domain.DLQMessage{
		ID:                uuid.New(),
		MessageID:         task.Message.ID,
		OriginalMessage:   task.Message.Body,
		FirstFailedAt:     task.FirstFailedAt,
		OriginalQueueName: task.Queue,
	}
	m.RecordFailure(task.Reason, task.Attempt, now)

	// Сохранение не должно зависеть от отмены обработки сообщения.
	ctx = context.WithoutCancel(ctx)
	if err := h.store.Add(ctx, m); err != nil {
		return fmt.Errorf("store dead letter: %w", err)
	}

	h.metrics.DLQDeadLettered(task.Queue)
	if err := h.alerter.Alert(ctx, m); err != nil {
		h.logger.Error("dead-letter alert failed", "dlq_id", m.ID, "error", err)
	}
	return nil
}

// Result — итог ProcessDLQMessages.
type Result struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// ProcessDLQMessages повторно обрабатывает сообщения из dead-letter хранилища.
//
// Успешно обработанное сообщение удаляется; неуспешное остаётся
// с обновлёнными метаданными ошибки. Processed + Errors равно числу
// сообщений, обработку которых начали. Скорость ограничена RedriveRate.
func (h *Handler) ProcessDLQMessages(ctx context.Context) (Result, error) {
	var res Result

	messages, err := h.store.List(ctx, h.redriveBatch)
	if err != nil {
		return res, fmt.Errorf("list dead letters: %w", err)
	}

	for _, m := range messages {
		if err := h.limiter.Wait(ctx); err != nil {
			return res, err
		}

		execErr := h.execute(ctx, Message{ID: m.MessageID, Body: m.OriginalMessage})
		if execErr == nil {
			if err := h.store.Remove(ctx, m.ID); err != nil {
				h.logger.Error("failed to remove redriven message", "dlq_id", m.ID, "error", err)
			}
			res.Processed++
			continue
		}

		res.Errors++
		m.RecordFailure(execErr.Error(), m.AttemptCount+1, h.now().UTC())
		if err := h.store.Update(ctx, m); err != nil {
			h.logger.Error("failed to update dead letter", "dlq_id", m.ID, "error", err)
		}
	}

	h.logger.Info("dead-letter redrive completed",
		"attempted", len(messages),
		"processed", res.Processed,
		"errors", res.Errors,
	)
	return res, nil
}

// PumpRetries забирает созревшие повторы из delay queue.
// Для планировщиков без очереди (TimerScheduler) ничего не делает.
func (h *Handler) PumpRetries(ctx context.Context) (int, error) {
	p, ok := h.scheduler.(Pumper)
	if !ok {
		return 0, nil
	}
	return p.Pump(ctx, h.retry)
}

// List возвращает сообщения dead-letter хранилища.
func (h *Handler) List(ctx context.Context, limit int) ([]*domain.DLQMessage, error) {
	return h.store.List(ctx, limit)
}

// HealthConfig — конфигурация, отдаваемая в health.
type HealthConfig struct {
	MaxRetries int    `json:"maxRetries"`
	BaseDelay  string `json:"baseDelay"`
	MaxDelay   string `json:"maxDelay"`
	Backoff    string `json:"backoff"`
}

// Health — состояние обработчика.
type Health struct {
	IsHealthy    bool                 `json:"isHealthy"`
	Config       HealthConfig         `json:"config"`
	Breaker      breaker.HealthStatus `json:"circuitBreaker"`
	DeadLettered int                  `json:"deadLettered"`
}

// HealthStatus возвращает состояние для health-эндпоинта.
// Обработчик здоров, пока его breaker не открыт.
func (h *Handler) HealthStatus(ctx context.Context) Health {
	bh := h.breaker.HealthStatus()
	count, err := h.store.Count(ctx)
	if err != nil {
		h.logger.Warn("failed to count dead letters", "error", err)
	}
	return Health{
		IsHealthy: bh.State != breaker.StateOpen,
		Config: HealthConfig{
			MaxRetries: h.maxRetries,
			BaseDelay:  h.baseDelay.String(),
			MaxDelay:   h.maxDelay.String(),
			Backoff:    h.backoff,
		},
		Breaker:      bh,
		DeadLettered: count,
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
