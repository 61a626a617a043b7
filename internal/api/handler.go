package api

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/health"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/saga"
)

// HealthChecker собирает отчёт о состоянии. Реализация: health.Checker.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Sagas — чтение выполнений saga. Реализация: saga.Orchestrator.
type Sagas interface {
	GetExecution(ctx context.Context, sagaID string) (*saga.Execution, error)
	GetAllExecutions(ctx context.Context) ([]*saga.Execution, error)
	GetExecutionsByStatus(ctx context.Context, status saga.Status) ([]*saga.Execution, error)
}

// DeadLetters — операции DLQ. Реализация: dlq.Handler.
type DeadLetters interface {
	ProcessDLQMessages(ctx context.Context) (dlq.Result, error)
	List(ctx context.Context, limit int) ([]*domain.DLQMessage, error)
}

// Outbox — операции outbox. Реализация: outbox.Outbox.
type Outbox interface {
	Stats(ctx context.Context) (outbox.Stats, error)
	Redrive(ctx context.Context, limit int) (int64, error)
	List(ctx context.Context, status domain.OutboxStatus, limit int) ([]*domain.OutboxEvent, error)
}

// Breakers — реестр breaker'ов. Реализация: breaker.Registry.
type Breakers interface {
	Snapshot() map[string]breaker.HealthStatus
	Lookup(name string) (*breaker.Breaker, error)
}

// Bookings публикует команду записи. Реализация: mq.Publisher.
type Bookings interface {
	PublishBooking(ctx context.Context, req domain.BookingRequest) (string, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	health      HealthChecker
	sagas       Sagas
	deadLetters DeadLetters
	outbox      Outbox
	breakers    Breakers
	bookings    Bookings
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
// Любая зависимость может быть nil: её маршруты отвечают 503.
type Config struct {
	Health      HealthChecker
	Sagas       Sagas
	DeadLetters DeadLetters
	Outbox      Outbox
	Breakers    Breakers
	Bookings    Bookings

	// Gatherer — источник метрик для /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handler{
		health:      cfg.Health,
		sagas:       cfg.Sagas,
		deadLetters: cfg.DeadLetters,
		outbox:      cfg.Outbox,
		breakers:    cfg.Breakers,
		bookings:    cfg.Bookings,
		gatherer:    gatherer,
		logger:      logger,
	}
}
