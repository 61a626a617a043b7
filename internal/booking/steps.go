package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/repo"
	"github.com/shaiso/ClinicBooking/internal/saga"
)

// SagaName — имя saga записи на приём.
const SagaName = "book_appointment"

// Ключи данных saga.
const (
	dataRequest   = "request"
	dataMessageID = "message_id"
)

// ID шагов saga.
const (
	StepValidatePatient      = "validate_patient"
	StepValidatePsychologist = "validate_psychologist"
	StepCheckConflict        = "check_conflict"
	StepPersistAppointment   = "persist_appointment"
	StepSendNotification     = "send_notification"
)

// Имена breaker'ов зависимостей.
const (
	BreakerPatients      = "patients"
	BreakerPsychologists = "psychologists"
	BreakerAppointments  = "appointments"
	BreakerNotifications = "notifications"
)

// BreakerNames — все breaker'ы, через которые идут шаги записи.
var BreakerNames = []string{BreakerPatients, BreakerPsychologists, BreakerAppointments, BreakerNotifications}

const handlerPrefix = "booking."

// Steps возвращает описание шагов saga записи.
func Steps() []saga.Step {
	return []saga.Step{
		{ID: StepValidatePatient, Name: "Validate or create patient", Handler: handlerPrefix + StepValidatePatient, Retryable: true, MaxRetries: 2},
		{ID: StepValidatePsychologist, Name: "Validate psychologist availability", Handler: handlerPrefix + StepValidatePsychologist},
		{ID: StepCheckConflict, Name: "Check scheduling conflict", Handler: handlerPrefix + StepCheckConflict},
		{ID: StepPersistAppointment, Name: "Persist confirmed appointment", Handler: handlerPrefix + StepPersistAppointment, Retryable: true, MaxRetries: 2},
		{ID: StepSendNotification, Name: "Send confirmation notification", Handler: handlerPrefix + StepSendNotification, Retryable: true, MaxRetries: 2},
	}
}

// registerHandlers регистрирует обработчики шагов в реестре saga.
func (w *Workflow) registerHandlers(reg *saga.Registry) {
	reg.Register(handlerPrefix+StepValidatePatient, saga.HandlerFuncs{Action: w.validatePatient})
	reg.Register(handlerPrefix+StepValidatePsychologist, saga.HandlerFuncs{Action: w.validatePsychologist})
	reg.Register(handlerPrefix+StepCheckConflict, saga.HandlerFuncs{Action: w.checkConflict})
	reg.Register(handlerPrefix+StepPersistAppointment, saga.HandlerFuncs{
		Action:       w.persistAppointment,
		Compensation: w.cancelAppointment,
	})
	reg.Register(handlerPrefix+StepSendNotification, saga.HandlerFuncs{Action: w.sendNotification})
}

func requestFrom(sc *saga.Context) (domain.BookingRequest, error) {
	v, ok := sc.Get(dataRequest)
	if !ok {
		return domain.BookingRequest{}, domain.Permanent(fmt.Errorf("%w: request missing from saga data", ErrMalformedMessage))
	}
	req, ok := v.(domain.BookingRequest)
	if !ok {
		return domain.BookingRequest{}, domain.Permanent(fmt.Errorf("%w: unexpected request type %T", ErrMalformedMessage, v))
	}
	return req, nil
}

// guarded выполняет операцию хранилища через breaker name.
// Ненайденная запись и нарушение бизнес-правил не считаются отказом зависимости.
func guarded[T any](ctx context.Context, w *Workflow, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var outcome error
	result, err := breaker.Run(ctx, w.breakers.Get(name), func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		if errors.Is(err, repo.ErrNotFound) || domain.IsPermanent(err) {
			outcome = err
			return v, nil
		}
		return v, err
	})
	if err != nil {
		return result, err
	}
	return result, outcome
}

// validatePatient находит пациента по ID или создаёт по email.
func (w *Workflow) validatePatient(ctx context.Context, sc *saga.Context) (any, error) {
	req, err := requestFrom(sc)
	if err != nil {
		return nil, err
	}

	if req.PatientID != uuid.Nil {
		p, err := guarded(ctx, w, BreakerPatients, func(ctx context.Context) (*domain.Patient, error) {
			return w.clinic.GetPatient(ctx, req.PatientID)
		})
		if errors.Is(err, repo.ErrNotFound) {
			return nil, domain.Permanent(fmt.Errorf("%w: %s", domain.ErrPatientNotFound, req.PatientID))
		}
		if err != nil {
			return nil, fmt.Errorf("get patient: %w", err)
		}
		return p.ID.String(), nil
	}

	p, err := guarded(ctx, w, BreakerPatients, func(ctx context.Context) (*domain.Patient, error) {
		return w.clinic.UpsertPatient(ctx, &domain.Patient{
			ID:        uuid.New(),
			Name:      req.PatientName,
			Email:     req.PatientEmail,
			Phone:     req.PatientPhone,
			CreatedAt: w.now().UTC(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("upsert patient: %w", err)
	}
	return p.ID.String(), nil
}

// validatePsychologist проверяет, что психолог существует, активен и работает в это время.
func (w *Workflow) validatePsychologist(ctx context.Context, sc *saga.Context) (any, error) {
	req, err := requestFrom(sc)
	if err != nil {
		return nil, err
	}

	p, err := guarded(ctx, w, BreakerPsychologists, func(ctx context.Context) (*domain.Psychologist, error) {
		return w.clinic.GetPsychologist(ctx, req.PsychologistID)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.Permanent(fmt.Errorf("%w: %s", domain.ErrPsychologistNotFound, req.PsychologistID))
	}
	if err != nil {
		return nil, fmt.Errorf("get psychologist: %w", err)
	}

	if !p.IsActive {
		return nil, domain.Permanent(fmt.Errorf("%w: %s", domain.ErrPsychologistInactive, p.ID))
	}
	if !p.Accepts(req.ScheduledAt, req.Duration()) {
		return nil, domain.Permanent(fmt.Errorf("%w: %s at %s", domain.ErrOutsideWorkingHours, p.ID, req.ScheduledAt.Format("15:04")))
	}
	return p.ID.String(), nil
}

// checkConflict проверяет, что слот психолога свободен.
func (w *Workflow) checkConflict(ctx context.Context, sc *saga.Context) (any, error) {
	req, err := requestFrom(sc)
	if err != nil {
		return nil, err
	}

	conflict, err := guarded(ctx, w, BreakerAppointments, func(ctx context.Context) (bool, error) {
		return w.clinic.HasConflict(ctx, req.PsychologistID, req.ScheduledAt, req.Duration(), req.AppointmentID)
	})
	if err != nil {
		return nil, fmt.Errorf("check conflict: %w", err)
	}
	if conflict {
		return nil, domain.Permanent(fmt.Errorf("%w: %s", domain.ErrSlotConflict, req.ResourceKey()))
	}
	return nil, nil
}

// persistAppointment сохраняет подтверждённую запись и событие
// AppointmentConfirmed в одной транзакции.
//
// Повтор шага после потерянного ответа БД находит уже сохранённую запись
// и не создаёт второе событие.
func (w *Workflow) persistAppointment(ctx context.Context, sc *saga.Context) (any, error) {
	req, err := requestFrom(sc)
	if err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(sc.GetString(StepValidatePatient))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("%w: patient id: %v", ErrMalformedMessage, err))
	}

	now := w.now().UTC()
	appt := domain.Appointment{
		ID:              req.AppointmentID,
		PatientID:       patientID,
		PsychologistID:  req.PsychologistID,
		ScheduledAt:     req.ScheduledAt,
		DurationMin:     req.DurationMin,
		Status:          domain.AppointmentStatusConfirmed,
		Notes:           req.Notes,
		SourceMessageID: sc.GetString(dataMessageID),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = guarded(ctx, w, BreakerAppointments, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.tx.WithTx(ctx, func(ctx context.Context) error {
			inserted, err := w.clinic.CreateAppointment(ctx, &appt)
			if errors.Is(err, repo.ErrAlreadyExists) {
				return slotTaken(req)
			}
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			if !inserted {
				existing, err := w.clinic.GetAppointment(ctx, appt.ID)
				if err != nil {
					return fmt.Errorf("get appointment: %w", err)
				}
				if existing.Status == domain.AppointmentStatusConfirmed {
					return nil
				}
				appt = existing.Confirm(now)
				err = w.clinic.UpdateAppointmentStatus(ctx, &appt)
				if errors.Is(err, repo.ErrAlreadyExists) {
					return slotTaken(req)
				}
				if err != nil {
					return fmt.Errorf("reconfirm appointment: %w", err)
				}
			}

			return w.storeEvent(ctx, &appt, domain.EventAppointmentConfirmed, "")
		})
	})
	if err != nil {
		return nil, err
	}
	return appt.ID.String(), nil
}

// slotTaken — слот занят другой подтверждённой записью (уникальный индекс).
func slotTaken(req domain.BookingRequest) error {
	return domain.Permanent(fmt.Errorf("%w: %s", domain.ErrSlotConflict, req.ResourceKey()))
}

// cancelAppointment — компенсация persistAppointment. Идемпотентна.
func (w *Workflow) cancelAppointment(ctx context.Context, sc *saga.Context) error {
	id, err := uuid.Parse(sc.GetString(StepPersistAppointment))
	if err != nil {
		return fmt.Errorf("appointment id: %w", err)
	}

	_, err = guarded(ctx, w, BreakerAppointments, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.tx.WithTx(ctx, func(ctx context.Context) error {
			existing, err := w.clinic.GetAppointment(ctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get appointment: %w", err)
			}
			if existing.Status != domain.AppointmentStatusConfirmed {
				return nil
			}

			cancelled := existing.Cancel(w.now().UTC())
			if err := w.clinic.UpdateAppointmentStatus(ctx, &cancelled); err != nil {
				return fmt.Errorf("cancel appointment: %w", err)
			}
			return w.storeEvent(ctx, &cancelled, domain.EventAppointmentCancelled, "compensation")
		})
	})
	return err
}

// sendNotification публикует уведомление через breaker "notifications".
func (w *Workflow) sendNotification(ctx context.Context, sc *saga.Context) (any, error) {
	req, err := requestFrom(sc)
	if err != nil {
		return nil, err
	}
	patientID, _ := uuid.Parse(sc.GetString(StepValidatePatient))

	err = w.breakers.Get(BreakerNotifications).Execute(ctx, func(ctx context.Context) error {
		return w.notifier.PublishNotification(ctx, mq.Notification{
			AppointmentID: req.AppointmentID,
			PatientID:     patientID,
			Email:         req.PatientEmail,
			Template:      "appointment_confirmed",
			ScheduledAt:   req.ScheduledAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}
	return nil, nil
}
