package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State — состояние circuit breaker.
//
//	CLOSED → OPEN (failureThreshold ошибок подряд)
//	OPEN → HALF_OPEN (первый вызов после recoveryTimeout)
//	HALF_OPEN → CLOSED (successThreshold успехов) | OPEN (любая ошибка)
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Default configuration values.
const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultRecoveryTimeout  = 30 * time.Second
	defaultMonitoringPeriod = 60 * time.Second
)

// Config — конфигурация Breaker.
type Config struct {
	// Name — имя защищаемой зависимости (для логов и метрик).
	Name string

	FailureThreshold int           // ошибок до OPEN (default: 5)
	SuccessThreshold int           // успехов в HALF_OPEN до CLOSED (default: 2)
	RecoveryTimeout  time.Duration // время в OPEN (default: 30s)
	MonitoringPeriod time.Duration // окно сброса счётчика ошибок (default: 60s)

	// Timeout — ограничение на одну операцию. 0 — без ограничения.
	Timeout time.Duration

	// OnStateChange вызывается после смены состояния, вне блокировки.
	OnStateChange func(name string, from, to State)

	// Now — источник времени (для тестов).
	Now func() time.Time

	Logger *slog.Logger
}

// HealthStatus — состояние breaker'а для health-check.
type HealthStatus struct {
	IsHealthy       bool       `json:"isHealthy"`
	State           State      `json:"state"`
	FailureRate     float64    `json:"failureRate"`
	NextAttemptTime *time.Time `json:"nextAttemptTime,omitempty"`
}

// Breaker — circuit breaker для одной зависимости.
//
// Все переходы состояний выполняются под мьютексом: пороги —
// точные счётчики. Сама операция выполняется вне блокировки.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	monitoringPeriod time.Duration
	timeout          time.Duration
	onStateChange    func(name string, from, to State)
	now              func() time.Time
	logger           *slog.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time

	totalRequests int64
	totalFailures int64
}

// New создаёт Breaker в состоянии CLOSED.
func New(cfg Config) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}

	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = defaultSuccessThreshold
	}

	recoveryTimeout := cfg.RecoveryTimeout
	if recoveryTimeout <= 0 {
		recoveryTimeout = defaultRecoveryTimeout
	}

	monitoringPeriod := cfg.MonitoringPeriod
	if monitoringPeriod <= 0 {
		monitoringPeriod = defaultMonitoringPeriod
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		name:             cfg.Name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		monitoringPeriod: monitoringPeriod,
		timeout:          cfg.Timeout,
		onStateChange:    cfg.OnStateChange,
		now:              now,
		logger:           logger.With("breaker", cfg.Name),
		state:            StateClosed,
	}
}

// Name возвращает имя breaker'а.
func (b *Breaker) Name() string { return b.name }

// Execute выполняет op, если breaker пропускает вызов.
// Возвращает *OpenError (errors.Is ErrCircuitOpen), если не пропускает.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	opCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	err := op(opCtx)
	b.after(err)
	return err
}

// Run — generic-вариант Execute для операций с результатом.
func Run[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

// CanExecute сообщает, пропустит ли breaker следующий вызов.
// Не меняет состояние.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		return !b.now().Before(b.nextAttemptTime)
	default:
		return true
	}
}

// before проверяет возможность вызова. Первый вызов после
// recoveryTimeout переводит breaker в HALF_OPEN.
func (b *Breaker) before() error {
	b.mu.Lock()

	if b.state == StateOpen {
		if b.now().Before(b.nextAttemptTime) {
			next := b.nextAttemptTime
			b.mu.Unlock()
			return &OpenError{Name: b.name, NextAttemptTime: next}
		}
		from := b.setState(StateHalfOpen)
		b.totalRequests++
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return nil
	}

	b.totalRequests++
	b.mu.Unlock()
	return nil
}

// after учитывает результат операции.
func (b *Breaker) after(err error) {
	b.mu.Lock()

	var from, to State
	if err == nil {
		from, to = b.onSuccess()
	} else {
		from, to = b.onFailure()
	}

	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// onSuccess вызывается под b.mu.
func (b *Breaker) onSuccess() (State, State) {
	now := b.now()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			return b.setState(StateClosed), StateClosed
		}
	case StateClosed:
		if b.failureCount > 0 && now.Sub(b.lastFailureTime) > b.monitoringPeriod {
			b.failureCount = 0
		}
	}

	return b.state, b.state
}

// onFailure вызывается под b.mu.
func (b *Breaker) onFailure() (State, State) {
	b.failureCount++
	b.totalFailures++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateHalfOpen:
		return b.setState(StateOpen), StateOpen
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			return b.setState(StateOpen), StateOpen
		}
	}

	return b.state, b.state
}

// setState меняет состояние и сбрасывает счётчики. Вызывается под b.mu.
// nextAttemptTime задан тогда и только тогда, когда state == OPEN.
func (b *Breaker) setState(to State) State {
	from := b.state
	b.state = to

	switch to {
	case StateOpen:
		b.nextAttemptTime = b.now().Add(b.recoveryTimeout)
		b.successCount = 0
	case StateHalfOpen:
		b.nextAttemptTime = time.Time{}
		b.successCount = 0
	case StateClosed:
		b.nextAttemptTime = time.Time{}
		b.failureCount = 0
		b.successCount = 0
	}

	return from
}

func (b *Breaker) notify(from, to State) {
	if to == StateOpen {
		b.logger.Warn("circuit breaker opened", "from", from)
	} else {
		b.logger.Info("circuit breaker state changed", "from", from, "to", to)
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// ForceOpen переводит breaker в OPEN в обход порогов.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	from := b.setState(StateOpen)
	b.mu.Unlock()

	if from != StateOpen {
		b.notify(from, StateOpen)
	}
}

// ForceClose переводит breaker в CLOSED и сбрасывает счётчики.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	from := b.setState(StateClosed)
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// State возвращает текущее состояние.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// HealthStatus возвращает снимок состояния для health-check.
func (b *Breaker) HealthStatus() HealthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs := HealthStatus{
		IsHealthy: b.state == StateClosed,
		State:     b.state,
	}
	if b.totalRequests > 0 {
		hs.FailureRate = float64(b.totalFailures) / float64(b.totalRequests)
	}
	if b.state == StateOpen {
		next := b.nextAttemptTime
		hs.NextAttemptTime = &next
	}
	return hs
}
