package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/mq"
)

// Clinic — доменные операции над пациентами, психологами и записями.
//
// Реализация: repo.ClinicRepo. Ненайденная запись возвращается как
// repo.ErrNotFound, конфликт уникальности — как repo.ErrAlreadyExists.
type Clinic interface {
	GetPsychologist(ctx context.Context, id uuid.UUID) (*domain.Psychologist, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*domain.Patient, error)
	UpsertPatient(ctx context.Context, p *domain.Patient) (*domain.Patient, error)
	HasConflict(ctx context.Context, psychologistID uuid.UUID, start time.Time, d time.Duration, excludeID uuid.UUID) (bool, error)
	CreateAppointment(ctx context.Context, a *domain.Appointment) (bool, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*domain.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, a *domain.Appointment) error
}

// Notifier отправляет уведомления пациентам. Реализация: mq.Publisher.
type Notifier interface {
	PublishNotification(ctx context.Context, n mq.Notification) error
}
