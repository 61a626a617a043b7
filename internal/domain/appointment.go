package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultDurationMin — длительность приёма по умолчанию.
const DefaultDurationMin = 50

// Appointment — запись пациента на приём к психологу.
type Appointment struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	PatientID      uuid.UUID `json:"patient_id"`
	PsychologistID uuid.UUID `json:"psychologist_id"`

	// ScheduledAt — начало приёма (UTC).
	ScheduledAt time.Time `json:"scheduled_at"`

	// DurationMin — длительность в минутах.
	DurationMin int `json:"duration_min"`

	Status AppointmentStatus `json:"status"`
	Notes  string            `json:"notes,omitempty"`

	// SourceMessageID — id сообщения, из которого создана запись.
	SourceMessageID string `json:"source_message_id,omitempty"`

	// Version — счётчик изменений агрегата.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EndsAt возвращает время окончания приёма.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMin) * time.Minute)
}

// Overlaps проверяет пересечение с интервалом [start, start+d).
func (a *Appointment) Overlaps(start time.Time, d time.Duration) bool {
	return a.ScheduledAt.Before(start.Add(d)) && start.Before(a.EndsAt())
}

// Cancel возвращает копию записи в статусе CANCELLED с увеличенной версией.
func (a Appointment) Cancel(now time.Time) Appointment {
	a.Status = AppointmentStatusCancelled
	a.Version++
	a.UpdatedAt = now
	return a
}

// Confirm возвращает копию записи в статусе CONFIRMED с увеличенной версией.
// Используется, когда повторная обработка находит запись, отменённую компенсацией.
func (a Appointment) Confirm(now time.Time) Appointment {
	a.Status = AppointmentStatusConfirmed
	a.Version++
	a.UpdatedAt = now
	return a
}

// Patient — пациент клиники.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Psychologist — специалист, к которому ведётся запись.
type Psychologist struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`

	// Рабочие часы (UTC), [WorkdayStart, WorkdayEnd).
	WorkdayStart int `json:"workday_start"`
	WorkdayEnd   int `json:"workday_end"`
}

// Accepts проверяет, что интервал приёма попадает в рабочие часы.
func (p *Psychologist) Accepts(start time.Time, d time.Duration) bool {
	if p.WorkdayStart == 0 && p.WorkdayEnd == 0 {
		return true
	}
	end := start.Add(d)
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), p.WorkdayStart, 0, 0, 0, time.UTC)
	dayEnd := time.Date(start.Year(), start.Month(), start.Day(), p.WorkdayEnd, 0, 0, 0, time.UTC)
	return !start.Before(dayStart) && !end.After(dayEnd)
}

// BookingRequest — запрос на запись, приходящий из очереди.
type BookingRequest struct {
	// AppointmentID задаётся клиентом; если пуст, генерируется при обработке.
	AppointmentID uuid.UUID `json:"appointment_id,omitempty"`

	// PatientID — существующий пациент. Если пуст, пациент ищется
	// или создаётся по email.
	PatientID    uuid.UUID `json:"patient_id,omitempty"`
	PatientName  string    `json:"patient_name,omitempty"`
	PatientEmail string    `json:"patient_email,omitempty"`
	PatientPhone string    `json:"patient_phone,omitempty"`

	PsychologistID uuid.UUID `json:"psychologist_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	DurationMin    int       `json:"duration_min,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

// Normalize заполняет значения по умолчанию.
// AppointmentID не назначается: без него worker выводит id из ключа сообщения.
func (r *BookingRequest) Normalize() {
	if r.DurationMin <= 0 {
		r.DurationMin = DefaultDurationMin
	}
	r.ScheduledAt = r.ScheduledAt.UTC()
}

// Duration возвращает длительность приёма.
func (r *BookingRequest) Duration() time.Duration {
	return time.Duration(r.DurationMin) * time.Minute
}

// Validate проверяет бизнес-правила запроса.
// Все ошибки постоянные: повтор не изменит результат.
func (r *BookingRequest) Validate(now time.Time) error {
	if r.PsychologistID == uuid.Nil {
		return Permanent(fmt.Errorf("%w: psychologist_id is required", ErrInvalidBooking))
	}
	if r.PatientID == uuid.Nil && r.PatientEmail == "" {
		return Permanent(fmt.Errorf("%w: patient_id or patient_email is required", ErrInvalidBooking))
	}
	if r.ScheduledAt.IsZero() {
		return Permanent(fmt.Errorf("%w: scheduled_at is required", ErrInvalidBooking))
	}
	if !r.ScheduledAt.After(now) {
		return Permanent(ErrPastDate)
	}
	return nil
}

// ResourceKey — ключ группировки сообщений по ресурсу (психолог + слот).
func (r *BookingRequest) ResourceKey() string {
	return fmt.Sprintf("%s:%d", r.PsychologistID, r.ScheduledAt.Unix())
}
