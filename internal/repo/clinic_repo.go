package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// ClinicRepo — репозиторий пациентов, психологов и записей.
type ClinicRepo struct {
	pool *pgxpool.Pool
}

// NewClinicRepo создаёт новый ClinicRepo.
func NewClinicRepo(pool *pgxpool.Pool) *ClinicRepo {
	return &ClinicRepo{pool: pool}
}

// GetPsychologist возвращает психолога по ID.
func (r *ClinicRepo) GetPsychologist(ctx context.Context, id uuid.UUID) (*domain.Psychologist, error) {
	query := `
		SELECT id, name, is_active, workday_start, workday_end
		FROM psychologists
		WHERE id = $1
	`
	var p domain.Psychologist
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.IsActive, &p.WorkdayStart, &p.WorkdayEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get psychologist: %w", err)
	}
	return &p, nil
}

// GetPatient возвращает пациента по ID.
func (r *ClinicRepo) GetPatient(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	query := `
		SELECT id, name, email, phone, created_at
		FROM patients
		WHERE id = $1
	`
	return r.scanPatient(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

// UpsertPatient находит пациента по email или создаёт нового.
// Идемпотентна: повторный вызов возвращает того же пациента.
func (r *ClinicRepo) UpsertPatient(ctx context.Context, p *domain.Patient) (*domain.Patient, error) {
	query := `
		INSERT INTO patients (id, name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), patients.name),
		    phone = COALESCE(EXCLUDED.phone, patients.phone)
		RETURNING id, name, email, phone, created_at
	`
	return r.scanPatient(conn(ctx, r.pool).QueryRow(ctx, query,
		p.ID,
		p.Name,
		p.Email,
		nullString(p.Phone),
		p.CreatedAt,
	))
}

func (r *ClinicRepo) scanPatient(row pgx.Row) (*domain.Patient, error) {
	var p domain.Patient
	var phone *string
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &phone, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	if phone != nil {
		p.Phone = *phone
	}
	return &p, nil
}

// HasConflict проверяет пересечение интервала с подтверждёнными записями психолога.
// Запись excludeID не учитывается.
func (r *ClinicRepo) HasConflict(ctx context.Context, psychologistID uuid.UUID, start time.Time, d time.Duration, excludeID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE psychologist_id = $1
			  AND status = 'CONFIRMED'
			  AND id <> $4
			  AND scheduled_at < $3
			  AND scheduled_at + make_interval(mins => duration_min) > $2
		)
	`
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, query, psychologistID, start, start.Add(d), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conflict: %w", err)
	}
	return exists, nil
}

// CreateAppointment сохраняет запись.
// Возвращает false, если запись с таким ID уже есть (повтор шага).
// Пересечение слота на уровне БД возвращает ErrAlreadyExists.
func (r *ClinicRepo) CreateAppointment(ctx context.Context, a *domain.Appointment) (bool, error) {
	query := `
		INSERT INTO appointments (id, patient_id, psychologist_id, scheduled_at, duration_min,
		                          status, notes, source_message_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, query,
		a.ID,
		a.PatientID,
		a.PsychologistID,
		a.ScheduledAt,
		a.DurationMin,
		a.Status,
		nullString(a.Notes),
		nullString(a.SourceMessageID),
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrAlreadyExists
		}
		return false, fmt.Errorf("insert appointment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetAppointment возвращает запись по ID.
func (r *ClinicRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	query := `
		SELECT id, patient_id, psychologist_id, scheduled_at, duration_min,
		       status, notes, source_message_id, version, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	var a domain.Appointment
	var notes, source *string
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.PatientID,
		&a.PsychologistID,
		&a.ScheduledAt,
		&a.DurationMin,
		&a.Status,
		&notes,
		&source,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if notes != nil {
		a.Notes = *notes
	}
	if source != nil {
		a.SourceMessageID = *source
	}
	return &a, nil
}

// UpdateAppointmentStatus меняет статус с проверкой версии (optimistic lock).
// Подтверждение на занятый слот возвращает ErrAlreadyExists.
func (r *ClinicRepo) UpdateAppointmentStatus(ctx context.Context, a *domain.Appointment) error {
	query := `
		UPDATE appointments
		SET status = $2, version = $3, updated_at = $4
		WHERE id = $1 AND version = $3 - 1
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, query, a.ID, a.Status, a.Version, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
