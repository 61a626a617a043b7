package health

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/saga"
)

// Итоговые статусы.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Breakers — источник состояний breaker'ов. Реализация: breaker.Registry.
type Breakers interface {
	Snapshot() map[string]breaker.HealthStatus
}

// Sagas — источник счётчиков saga. Реализация: saga.Orchestrator.
type Sagas interface {
	ExecutionCount(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[saga.Status]int, error)
}

// DeadLetters — источник состояния DLQ. Реализация: dlq.Handler.
type DeadLetters interface {
	HealthStatus(ctx context.Context) dlq.Health
}

// Outbox — источник backlog outbox. Реализация: outbox.Outbox.
type Outbox interface {
	Stats(ctx context.Context) (outbox.Stats, error)
}

// SagaStatus — счётчики выполнений saga.
type SagaStatus struct {
	ExecutionCount int                 `json:"executionCount"`
	ByStatus       map[saga.Status]int `json:"byStatus,omitempty"`
}

// Report — состояние сервиса.
//
// CircuitBreaker — наихудший из breaker'ов (OPEN > HALF_OPEN > CLOSED),
// CircuitBreakers — все breaker'ы по имени.
type Report struct {
	Status          string                          `json:"status"`
	CircuitBreaker  breaker.HealthStatus            `json:"circuitBreaker"`
	CircuitBreakers map[string]breaker.HealthStatus `json:"circuitBreakers,omitempty"`
	Saga            *SagaStatus                     `json:"saga,omitempty"`
	DLQ             *dlq.Health                     `json:"dlq,omitempty"`
	Outbox          *outbox.Stats                   `json:"outbox,omitempty"`

	// Errors — источники, которые не удалось опросить.
	Errors map[string]string `json:"errors,omitempty"`
}

// Healthy сообщает, что ни один breaker не открыт и DLQ здорова.
func (r Report) Healthy() bool {
	return r.Status == StatusOK
}

// Checker опрашивает компоненты. Любой источник может быть nil.
type Checker struct {
	Breakers    Breakers
	Sagas       Sagas
	DeadLetters DeadLetters
	Outbox      Outbox
	Logger      *slog.Logger
}

// Check собирает отчёт о состоянии.
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{
		Status:         StatusOK,
		CircuitBreaker: breaker.HealthStatus{IsHealthy: true, State: breaker.StateClosed},
	}

	if c.Breakers != nil {
		rep.CircuitBreakers = c.Breakers.Snapshot()
		rep.CircuitBreaker = Worst(rep.CircuitBreakers)
		if !rep.CircuitBreaker.IsHealthy {
			rep.Status = StatusDegraded
		}
	}

	if c.Sagas != nil {
		st := &SagaStatus{}
		n, err := c.Sagas.ExecutionCount(ctx)
		if err != nil {
			c.fail(&rep, "saga", err)
		}
		st.ExecutionCount = n
		if by, err := c.Sagas.CountByStatus(ctx); err == nil {
			st.ByStatus = by
		}
		rep.Saga = st
	}

	if c.DeadLetters != nil {
		h := c.DeadLetters.HealthStatus(ctx)
		rep.DLQ = &h
		if !h.IsHealthy {
			rep.Status = StatusDegraded
		}
	}

	if c.Outbox != nil {
		st, err := c.Outbox.Stats(ctx)
		if err != nil {
			c.fail(&rep, "outbox", err)
		} else {
			rep.Outbox = &st
		}
	}

	return rep
}

func (c *Checker) fail(rep *Report, source string, err error) {
	if rep.Errors == nil {
		rep.Errors = make(map[string]string)
	}
	rep.Errors[source] = err.Error()
	rep.Status = StatusDegraded

	if c.Logger != nil {
		c.Logger.Warn("health source unavailable", "source", source, "error", err)
	}
}

// Worst выбирает наихудшее состояние: сначала по состоянию,
// затем по доле ошибок. Порядок имён стабилен.
func Worst(statuses map[string]breaker.HealthStatus) breaker.HealthStatus {
	worst := breaker.HealthStatus{IsHealthy: true, State: breaker.StateClosed}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := statuses[name]
		if severity(st.State) > severity(worst.State) ||
			(st.State == worst.State && st.FailureRate > worst.FailureRate) {
			worst = st
		}
	}
	return worst
}

func severity(s breaker.State) int {
	switch s {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
