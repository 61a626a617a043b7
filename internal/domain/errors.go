package domain

import "errors"

// Ошибки бизнес-правил записи.
var (
	// ErrInvalidBooking — запрос на запись некорректен.
	ErrInvalidBooking = errors.New("invalid booking request")

	// ErrPastDate — время приёма в прошлом.
	ErrPastDate = errors.New("appointment time is in the past")

	// ErrPsychologistNotFound — психолог не найден.
	ErrPsychologistNotFound = errors.New("psychologist not found")

	// ErrPsychologistInactive — психолог не принимает записи.
	ErrPsychologistInactive = errors.New("psychologist is inactive")

	// ErrOutsideWorkingHours — слот вне рабочих часов психолога.
	ErrOutsideWorkingHours = errors.New("slot is outside working hours")

	// ErrSlotConflict — слот пересекается с существующей записью.
	ErrSlotConflict = errors.New("slot conflicts with existing appointment")

	// ErrPatientNotFound — пациент не найден.
	ErrPatientNotFound = errors.New("patient not found")
)

// PermanentError помечает ошибку как постоянную (нарушение бизнес-правила).
// Такие ошибки не повторяются ни saga, ни DLQ.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает err в PermanentError. nil остаётся nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent сообщает, помечена ли ошибка как постоянная.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
