package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

// Default configuration values.
const (
	defaultBackoffBase = time.Second
	defaultStepTimeout = 30 * time.Second
)

// Orchestrator выполняет saga: упорядоченные шаги с компенсацией.
//
// Шаги выполняются строго по порядку. При неустранимой ошибке шага
// выполненные шаги компенсируются в обратном порядке (LIFO);
// ошибки компенсации логируются и не прерывают цепочку.
type Orchestrator struct {
	registry     *Registry
	store        ExecutionStore
	backoffBase  time.Duration
	maxRetryWait time.Duration
	stepTimeout  time.Duration
	now          func() time.Time
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Registry — обработчики шагов (обязателен).
	Registry *Registry

	// Store — хранилище выполнений (default: MemoryStore).
	Store ExecutionStore

	// BackoffBase — база задержки retry: delay = base * 2^attempt (default: 1s).
	BackoffBase time.Duration

	// MaxRetryWait — предел суммарного ожидания retry в одном выполнении.
	// Повтор, превышающий предел, не выполняется: шаг завершается
	// ErrRetryBudgetExceeded, дальнейшие повторы делает DLQ. 0 — без предела.
	MaxRetryWait time.Duration

	// StepTimeout — таймаут шага без собственного Timeout (default: 30s).
	StepTimeout time.Duration

	Now     func() time.Time
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}

	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		registry:     registry,
		store:        store,
		backoffBase:  backoffBase,
		maxRetryWait: cfg.MaxRetryWait,
		stepTimeout:  stepTimeout,
		now:          now,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Registry возвращает реестр обработчиков.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// ExecuteSaga выполняет saga и возвращает итоговое выполнение.
//
// Ошибка возвращается, если статус не COMPLETED; она оборачивает
// ErrSagaFailed и причину (ошибку шага), так что domain.IsPermanent
// и errors.Is работают по цепочке.
func (o *Orchestrator) ExecuteSaga(ctx context.Context, name string, steps []Step, initialData map[string]any) (*Execution, error) {
	sagaID := uuid.NewString()
	logger := telemetry.WithSagaID(o.logger, sagaID).With("saga", name)

	exec := &Execution{
		SagaID: sagaID,
		Name:   name,
		Status: StatusPending,
		Context: &Context{
			SagaID: sagaID,
			Data:   make(map[string]any, len(initialData)),
		},
		StartedAt: o.now(),
	}
	for k, v := range initialData {
		exec.Context.Data[k] = v
	}
	o.save(ctx, exec, logger)

	// Все обработчики разрешаются до первого шага
	handlers, err := o.resolve(steps)
	if err != nil {
		logger.Error("saga rejected", "error", err)
		return o.finish(ctx, exec, StatusFailed, err, logger)
	}

	exec.Status = StatusInProgress
	o.save(ctx, exec, logger)

	logger.Info("saga started", "steps", len(steps))

	var waited time.Duration

	for i, step := range steps {
		exec.CurrentStepIndex = i
		exec.Context.CurrentStep = step.ID

		// Saga можно прервать только между шагами
		if err := ctx.Err(); err != nil {
			if i == 0 {
				return o.finish(ctx, exec, StatusFailed, fmt.Errorf("saga cancelled before first step: %w", err), logger)
			}
			return o.compensate(ctx, exec, steps, handlers, step, err, logger)
		}

		o.save(ctx, exec, logger)

		result, attempts, err := o.executeStepWithRetry(ctx, exec, step, handlers[i], &waited, logger)
		rec := exec.record(step.ID)
		rec.Attempts = attempts
		if err != nil {
			rec.Status = StepFailed
			rec.Error = err.Error()
			return o.compensate(ctx, exec, steps, handlers, step, err, logger)
		}

		rec.Status = StepCompleted
		if result != nil {
			exec.Context.Set(step.ID, result)
		}
		exec.Context.CompletedSteps = append(exec.Context.CompletedSteps, step.ID)

		logger.Debug("saga step completed", "step_id", step.ID, "attempts", attempts)
	}

	exec.Context.CurrentStep = ""
	return o.finish(ctx, exec, StatusCompleted, nil, logger)
}

// resolve проверяет шаги и находит их обработчики.
func (o *Orchestrator) resolve(steps []Step) ([]Handler, error) {
	seen := make(map[string]bool, len(steps))
	handlers := make([]Handler, len(steps))

	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return nil, err
		}
		if seen[step.ID] {
			return nil, fmt.Errorf("%w: duplicate step id %s", ErrInvalidStep, step.ID)
		}
		seen[step.ID] = true

		h, err := o.registry.Get(step.Handler)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
		handlers[i] = h
	}

	return handlers, nil
}

// executeStepWithRetry выполняет шаг, повторяя временные ошибки
// retryable-шагов с задержкой base * 2^attempt. waited — суммарное
// ожидание retry в выполнении, ограниченное maxRetryWait.
// Возвращает результат и число попыток.
func (o *Orchestrator) executeStepWithRetry(ctx context.Context, exec *Execution, step Step, h Handler, waited *time.Duration, logger *slog.Logger) (any, int, error) {
	attempt := 0
	for {
		attempt++

		result, err := o.runStep(ctx, exec.Context, step, h)
		if err == nil {
			return result, attempt, nil
		}

		retriesUsed := attempt - 1
		if !step.Retryable || domain.IsPermanent(err) || retriesUsed >= step.MaxRetries {
			logger.Warn("saga step failed",
				"step_id", step.ID,
				"attempt", attempt,
				"retryable", step.Retryable,
				"permanent", domain.IsPermanent(err),
				"error", err,
			)
			return nil, attempt, err
		}

		delay := o.backoff(attempt)
		if o.maxRetryWait > 0 && *waited+delay > o.maxRetryWait {
			logger.Warn("saga step retry budget exhausted",
				"step_id", step.ID,
				"attempt", attempt,
				"waited", *waited,
				"error", err,
			)
			return nil, attempt, fmt.Errorf("%w: step %s: %w", ErrRetryBudgetExceeded, step.ID, err)
		}
		*waited += delay
		exec.Context.RetryCount++

		logger.Info("retrying saga step",
			"step_id", step.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		if err := wait(ctx, delay); err != nil {
			return nil, attempt, fmt.Errorf("step %s: retry wait: %w", step.ID, err)
		}
	}
}

// runStep выполняет одну попытку с таймаутом шага.
func (o *Orchestrator) runStep(ctx context.Context, sc *Context, step Step, h Handler) (any, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.stepTimeout
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := h.Execute(stepCtx, sc)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %s after %s: %w", ErrStepTimeout, step.ID, timeout, err)
	}
	return result, err
}

// backoff — задержка перед повтором номер attempt (с 1): base * 2^attempt.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.backoffBase * time.Duration(1<<attempt)
}

// wait ждёт delay или отмены ctx, не занимая поток.
func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// compensate откатывает выполненные шаги в обратном порядке.
// Выполняется на контексте без отмены: начатая компенсация доводится до конца.
func (o *Orchestrator) compensate(ctx context.Context, exec *Execution, steps []Step, handlers []Handler, failed Step, cause error, logger *slog.Logger) (*Execution, error) {
	exec.Error = fmt.Sprintf("step %s: %v", failed.ID, cause)
	exec.Status = StatusCompensating
	o.save(ctx, exec, logger)

	logger.Warn("saga compensating",
		"failed_step", failed.ID,
		"completed_steps", len(exec.Context.CompletedSteps),
		"error", cause,
	)

	compCtx := context.WithoutCancel(ctx)

	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}

	completed := exec.Context.CompletedSteps
	for i := len(completed) - 1; i >= 0; i-- {
		stepID := completed[i]
		h := handlers[index[stepID]]
		rec := exec.record(stepID)

		if err := h.Compensate(compCtx, exec.Context); err != nil {
			rec.Status = StepCompensationFailed
			rec.Error = err.Error()
			o.metrics.SagaCompensation(exec.Name, stepID, false)
			logger.Error("saga step compensation failed", "step_id", stepID, "error", err)
			continue
		}

		rec.Status = StepCompensated
		o.metrics.SagaCompensation(exec.Name, stepID, true)
		logger.Info("saga step compensated", "step_id", stepID)
	}

	return o.finish(compCtx, exec, StatusCompensated, fmt.Errorf("step %s: %w", failed.ID, cause), logger)
}

// finish фиксирует финальный статус.
func (o *Orchestrator) finish(ctx context.Context, exec *Execution, status Status, cause error, logger *slog.Logger) (*Execution, error) {
	completedAt := o.now()
	exec.Status = status
	exec.CompletedAt = &completedAt
	if cause != nil && exec.Error == "" {
		exec.Error = cause.Error()
	}
	o.save(context.WithoutCancel(ctx), exec, logger)

	o.metrics.SagaFinished(exec.Name, string(status))
	logger.Info("saga finished",
		"status", status,
		"duration", completedAt.Sub(exec.StartedAt),
		"retries", exec.Context.RetryCount,
	)

	if cause != nil {
		return exec.Clone(), fmt.Errorf("%w: %s: %w", ErrSagaFailed, exec.Name, cause)
	}
	return exec.Clone(), nil
}

// save сохраняет снимок. Ошибка хранилища не прерывает saga.
func (o *Orchestrator) save(ctx context.Context, exec *Execution, logger *slog.Logger) {
	if err := o.store.Save(ctx, exec); err != nil {
		logger.Warn("failed to save saga execution", "status", exec.Status, "error", err)
	}
}

// GetExecution возвращает выполнение по ID.
func (o *Orchestrator) GetExecution(ctx context.Context, sagaID string) (*Execution, error) {
	return o.store.Get(ctx, sagaID)
}

// GetAllExecutions возвращает все выполнения.
func (o *Orchestrator) GetAllExecutions(ctx context.Context) ([]*Execution, error) {
	return o.store.List(ctx)
}

// GetExecutionsByStatus возвращает выполнения с указанным статусом.
func (o *Orchestrator) GetExecutionsByStatus(ctx context.Context, status Status) ([]*Execution, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Execution, 0, len(all))
	for _, exec := range all {
		if exec.Status == status {
			out = append(out, exec)
		}
	}
	return out, nil
}

// ExecutionCount возвращает число выполнений в хранилище.
func (o *Orchestrator) ExecutionCount(ctx context.Context) (int, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// CountByStatus возвращает число выполнений по статусам.
func (o *Orchestrator) CountByStatus(ctx context.Context) (map[Status]int, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[Status]int)
	for _, exec := range all {
		counts[exec.Status]++
	}
	return counts, nil
}

// CleanupExecutions удаляет финальные выполнения старше olderThan.
func (o *Orchestrator) CleanupExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	removed, err := o.store.Sweep(ctx, o.now().Add(-olderThan))
	if err != nil {
		return removed, fmt.Errorf("sweep saga executions: %w", err)
	}
	if removed > 0 {
		o.logger.Info("saga executions cleaned up", "removed", removed, "older_than", olderThan)
	}
	return removed, nil
}
