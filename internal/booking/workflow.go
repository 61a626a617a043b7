package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/idempotency"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/repo"
	"github.com/shaiso/ClinicBooking/internal/saga"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

// eventNamespace — пространство имён для детерминированных id событий.
var eventNamespace = uuid.MustParse("6f1c8a52-3d4e-5b7a-9c21-0e8f4d6b2a13")

// Outcome — итог обработки сообщения.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeDeclined         Outcome = "declined"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeContentDuplicate Outcome = "content_duplicate"
	OutcomeInFlight         Outcome = "in_flight"
	OutcomeFailed           Outcome = "failed"
)

// Incoming — сообщение с запросом на запись.
type Incoming struct {
	// ID — id сообщения транспорта. Может быть пустым.
	ID string

	// Body — полное тело сообщения.
	Body []byte

	// Payload — JSON запроса (data конверта). Если пуст, используется Body.
	Payload []byte

	// Attempt — номер попытки доставки, начиная с 1.
	Attempt int

	Queue string
}

// payload возвращает JSON запроса без конверта.
func (in Incoming) payload() []byte {
	if len(in.Payload) == 0 {
		return in.Body
	}
	return in.Payload
}

// message строит сообщение для дедупликации. Hash считается по
// запросу, а не по конверту: id и timestamp конверта меняются
// при каждой повторной отправке.
func (in Incoming) message() idempotency.Message {
	return idempotency.Message{ID: in.ID, Body: in.payload()}
}

// Config — конфигурация Workflow.
type Config struct {
	Tx       repo.TxManager
	Clinic   Clinic
	Outbox   *outbox.Outbox
	Notifier Notifier
	Guard    *idempotency.Guard
	Saga     *saga.Orchestrator

	// Breakers — breaker'ы зависимостей (см. BreakerNames).
	Breakers *breaker.Registry

	Now     func() time.Time
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Workflow — обработка запроса на запись: идемпотентность, saga
// с компенсацией, outbox и breaker'ы вокруг каждой зависимости.
type Workflow struct {
	tx       repo.TxManager
	clinic   Clinic
	outbox   *outbox.Outbox
	notifier Notifier
	guard    *idempotency.Guard
	saga     *saga.Orchestrator
	breakers *breaker.Registry
	steps    []saga.Step
	now      func() time.Time
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// New создаёт Workflow и регистрирует обработчики шагов в реестре saga.
func New(cfg Config) *Workflow {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	breakers := cfg.Breakers
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Config{Logger: logger})
	}

	w := &Workflow{
		tx:       cfg.Tx,
		clinic:   cfg.Clinic,
		outbox:   cfg.Outbox,
		notifier: cfg.Notifier,
		guard:    cfg.Guard,
		saga:     cfg.Saga,
		breakers: breakers,
		steps:    Steps(),
		now:      now,
		metrics:  cfg.Metrics,
		logger:   logger,
	}

	// breaker'ы создаются сразу, чтобы быть видимыми в health-check
	for _, name := range BreakerNames {
		breakers.Get(name)
	}

	w.registerHandlers(cfg.Saga.Registry())
	return w
}

// Breakers возвращает реестр breaker'ов зависимостей.
func (w *Workflow) Breakers() *breaker.Registry { return w.breakers }

// Process обрабатывает сообщение с запросом на запись.
//
// Ошибка возвращается только для временных сбоев; её получатель
// передаёт сообщение в DLQ. Нарушение бизнес-правил завершается
// OutcomeDeclined без ошибки. Постоянная ошибка (domain.IsPermanent)
// означает, что сообщение не может быть обработано никогда.
func (w *Workflow) Process(ctx context.Context, in Incoming) (Outcome, error) {
	msg := in.message()
	logger := telemetry.WithMessageID(w.logger, msg.Key()).With("attempt", in.Attempt)
	ctx = telemetry.WithLogger(ctx, logger)

	outcome, err := w.process(ctx, in, msg, logger)
	w.metrics.MessageProcessed(string(outcome))
	return outcome, err
}

func (w *Workflow) process(ctx context.Context, in Incoming, msg idempotency.Message, logger *slog.Logger) (Outcome, error) {
	if w.guard.IsProcessed(ctx, msg) {
		logger.Info("message already processed, skipping")
		return OutcomeDuplicate, nil
	}

	if u := w.guard.ValidateMessageUniqueness(ctx, msg); !u.IsUnique {
		logger.Info("message content already processed, skipping",
			"duplicate_of", u.Existing.MessageKey,
		)
		if err := w.guard.MarkDuplicateOf(ctx, msg, u.Existing); err != nil {
			logger.Warn("failed to mark content duplicate", "error", err)
		}
		return OutcomeContentDuplicate, nil
	}

	switch err := w.guard.Claim(ctx, msg); {
	case errors.Is(err, idempotency.ErrDuplicate):
		logger.Info("message processed concurrently, skipping")
		return OutcomeDuplicate, nil
	case errors.Is(err, idempotency.ErrInFlight):
		logger.Info("message is being processed by another worker, skipping")
		return OutcomeInFlight, nil
	}

	req, err := w.decode(in, msg)
	if err != nil {
		logger.Error("malformed booking message", "error", err)
		w.markFailure(ctx, msg, err)
		return OutcomeFailed, domain.Permanent(err)
	}
	logger = telemetry.WithAppointmentID(logger, req.AppointmentID.String())
	ctx = telemetry.WithLogger(ctx, logger)

	if err := req.Validate(w.now()); err != nil {
		return w.decline(ctx, msg, req, err, "")
	}

	exec, err := w.saga.ExecuteSaga(ctx, SagaName, w.steps, map[string]any{
		dataRequest:   req,
		dataMessageID: msg.Key(),
	})
	if err == nil {
		if err := w.guard.MarkAsProcessed(ctx, msg, domain.ResultSuccess, map[string]string{
			"saga_id":        exec.SagaID,
			"appointment_id": req.AppointmentID.String(),
		}); err != nil {
			logger.Warn("appointment confirmed but idempotency mark failed", "error", err)
		}
		logger.Info("appointment confirmed", "saga_id", exec.SagaID)
		return OutcomeConfirmed, nil
	}

	if domain.IsPermanent(err) {
		return w.decline(ctx, msg, req, err, exec.SagaID)
	}

	logger.Warn("booking saga failed", "saga_id", exec.SagaID, "status", exec.Status, "error", err)
	w.markFailure(ctx, msg, err)
	return OutcomeFailed, err
}

// decode разбирает запрос. Id записи без appointment_id выводится из
// ключа сообщения, так что повторная доставка адресует ту же запись.
func (w *Workflow) decode(in Incoming, msg idempotency.Message) (domain.BookingRequest, error) {
	var req domain.BookingRequest
	if err := json.Unmarshal(in.payload(), &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if req.AppointmentID == uuid.Nil {
		req.AppointmentID = uuid.NewSHA1(eventNamespace, []byte("appointment:"+msg.Key()))
	}
	req.Normalize()
	return req, nil
}

// decline фиксирует отказ событием AppointmentDeclined.
// Строка в appointments не создаётся.
func (w *Workflow) decline(ctx context.Context, msg idempotency.Message, req domain.BookingRequest, cause error, sagaID string) (Outcome, error) {
	logger := telemetry.FromContext(ctx)

	data := domain.AppointmentEvent{
		AppointmentID:  req.AppointmentID,
		PatientID:      req.PatientID,
		PsychologistID: req.PsychologistID,
		ScheduledAt:    req.ScheduledAt,
		DurationMin:    req.DurationMin,
		Status:         string(domain.AppointmentStatusDeclined),
		Reason:         cause.Error(),
		MessageID:      msg.Key(),
	}
	ev, err := domain.NewOutboxEvent(domain.AggregateAppointment, req.AppointmentID.String(),
		domain.EventAppointmentDeclined, data, 0)
	if err != nil {
		return OutcomeFailed, domain.Permanent(err)
	}
	ev.ID = uuid.NewSHA1(eventNamespace, []byte(msg.Key()+":declined"))
	ev.CreatedAt = w.now().UTC()

	_, err = guarded(ctx, w, BreakerAppointments, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.tx.WithTx(ctx, func(ctx context.Context) error {
			return w.insertEvent(ctx, ev)
		})
	})
	if err != nil {
		logger.Warn("failed to record declined booking", "error", err)
		w.markFailure(ctx, msg, err)
		return OutcomeFailed, fmt.Errorf("record declined booking: %w", err)
	}

	if err := w.guard.MarkAsProcessed(ctx, msg, domain.ResultSuccess, map[string]string{
		"saga_id":        sagaID,
		"appointment_id": req.AppointmentID.String(),
		"declined":       cause.Error(),
	}); err != nil {
		logger.Warn("booking declined but idempotency mark failed", "error", err)
	}

	logger.Info("appointment declined", "saga_id", sagaID, "reason", cause)
	return OutcomeDeclined, nil
}

// storeEvent записывает событие записи в outbox в транзакции из ctx.
// Id события детерминирован по агрегату, типу и версии.
func (w *Workflow) storeEvent(ctx context.Context, a *domain.Appointment, eventType, reason string) error {
	ev, err := domain.NewOutboxEvent(domain.AggregateAppointment, a.ID.String(), eventType, domain.AppointmentEvent{
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		PsychologistID: a.PsychologistID,
		ScheduledAt:    a.ScheduledAt,
		DurationMin:    a.DurationMin,
		Status:         string(a.Status),
		Reason:         reason,
		MessageID:      a.SourceMessageID,
	}, a.Version)
	if err != nil {
		return err
	}
	ev.ID = uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%s:%s:%d", a.ID, eventType, a.Version)))
	ev.CreatedAt = w.now().UTC()
	return w.insertEvent(ctx, ev)
}

func (w *Workflow) insertEvent(ctx context.Context, ev *domain.OutboxEvent) error {
	err := w.outbox.StoreEvent(ctx, ev)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (w *Workflow) markFailure(ctx context.Context, msg idempotency.Message, cause error) {
	if err := w.guard.MarkAsProcessed(ctx, msg, domain.ResultFailure, map[string]string{
		"error": cause.Error(),
	}); err != nil {
		telemetry.FromContext(ctx).Warn("failed to mark message failure", "error", err)
	}
}

// Handle — dlq.Action: повторная обработка сообщения из DLQ.
// Отказ по бизнес-правилам считается успешной обработкой.
func (w *Workflow) Handle(ctx context.Context, m dlq.Message) error {
	_, err := w.Process(ctx, Incoming{ID: m.ID, Body: m.Body, Payload: mq.Payload(m.Body)})
	return err
}
