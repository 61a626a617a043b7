package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinic"

// Metrics — Prometheus-метрики конвейера обработки записей.
//
// Все методы безопасны для nil-получателя: компоненты, созданные
// без метрик (например, в тестах), просто ничего не пишут.
type Metrics struct {
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	sagaExecutions   *prometheus.CounterVec
	sagaCompensation *prometheus.CounterVec

	dlqRetries     *prometheus.CounterVec
	dlqDeadLetters *prometheus.CounterVec

	outboxPublished *prometheus.CounterVec
	outboxBacklog   *prometheus.GaugeVec

	idempotencySkips *prometheus.CounterVec

	messagesProcessed *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
		}, []string{"breaker"}),
		breakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"breaker", "from", "to"}),
		sagaExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_executions_total",
			Help:      "Finished saga executions by final status.",
		}, []string{"saga", "status"}),
		sagaCompensation: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Step compensations by outcome.",
		}, []string{"saga", "step", "outcome"}),
		dlqRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_retries_scheduled_total",
			Help:      "Retries scheduled by the dead-letter handler.",
		}, []string{"queue"}),
		dlqDeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_dead_letters_total",
			Help:      "Messages moved to dead-letter storage.",
		}, []string{"queue"}),
		outboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_total",
			Help:      "Outbox publish attempts by outcome.",
		}, []string{"outcome"}),
		outboxBacklog: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_events",
			Help:      "Outbox events by status.",
		}, []string{"status"}),
		idempotencySkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_skips_total",
			Help:      "Messages skipped by the idempotency guard.",
		}, []string{"reason"}),
		messagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_messages_total",
			Help:      "Booking messages by outcome.",
		}, []string{"outcome"}),
	}
}

// BreakerState фиксирует текущее состояние breaker'а и переход.
func (m *Metrics) BreakerState(name, from, to string) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(breakerStateValue(to))
	if from != "" {
		m.breakerTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func breakerStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return 0
	}
}

// SagaFinished учитывает завершённую saga.
func (m *Metrics) SagaFinished(saga, status string) {
	if m == nil {
		return
	}
	m.sagaExecutions.WithLabelValues(saga, status).Inc()
}

// SagaCompensation учитывает результат компенсации шага.
func (m *Metrics) SagaCompensation(saga, step string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.sagaCompensation.WithLabelValues(saga, step, outcome).Inc()
}

// DLQRetryScheduled учитывает запланированный retry.
func (m *Metrics) DLQRetryScheduled(queue string) {
	if m == nil {
		return
	}
	m.dlqRetries.WithLabelValues(queue).Inc()
}

// DLQDeadLettered учитывает сообщение, ушедшее в dead-letter.
func (m *Metrics) DLQDeadLettered(queue string) {
	if m == nil {
		return
	}
	m.dlqDeadLetters.WithLabelValues(queue).Inc()
}

// OutboxPublish учитывает попытку публикации (published, retry, failed).
func (m *Metrics) OutboxPublish(outcome string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(outcome).Inc()
}

// OutboxBacklog выставляет количество событий в статусе.
func (m *Metrics) OutboxBacklog(status string, count int) {
	if m == nil {
		return
	}
	m.outboxBacklog.WithLabelValues(status).Set(float64(count))
}

// IdempotencySkip учитывает пропущенное guard'ом сообщение.
func (m *Metrics) IdempotencySkip(reason string) {
	if m == nil {
		return
	}
	m.idempotencySkips.WithLabelValues(reason).Inc()
}

// MessageProcessed учитывает итог обработки сообщения.
func (m *Metrics) MessageProcessed(outcome string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(outcome).Inc()
}
