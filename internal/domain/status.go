package domain

// AppointmentStatus — статус записи на приём.
//
// Жизненный цикл:
//
//	CONFIRMED → CANCELLED (компенсация saga или отмена оператором)
//
// DECLINED не сохраняется в таблицу appointments: отказ фиксируется
// только событием в outbox.
type AppointmentStatus string

const (
	// AppointmentStatusConfirmed — запись подтверждена.
	AppointmentStatusConfirmed AppointmentStatus = "CONFIRMED"

	// AppointmentStatusCancelled — запись отменена.
	AppointmentStatusCancelled AppointmentStatus = "CANCELLED"

	// AppointmentStatusDeclined — в записи отказано.
	AppointmentStatusDeclined AppointmentStatus = "DECLINED"
)

// OutboxStatus — статус события в outbox.
//
// Жизненный цикл:
//
//	PENDING → PROCESSING → PROCESSED
//	                     ↘ PENDING (retry_count+1)
//	                     ↘ FAILED (retry исчерпаны, нужен redrive)
type OutboxStatus string

const (
	// OutboxStatusPending — событие ожидает публикации.
	OutboxStatusPending OutboxStatus = "PENDING"

	// OutboxStatusProcessing — событие захвачено публикатором.
	OutboxStatusProcessing OutboxStatus = "PROCESSING"

	// OutboxStatusProcessed — событие опубликовано.
	OutboxStatusProcessed OutboxStatus = "PROCESSED"

	// OutboxStatusFailed — публикация не удалась после всех попыток.
	OutboxStatusFailed OutboxStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s OutboxStatus) IsTerminal() bool {
	switch s {
	case OutboxStatusProcessed, OutboxStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxStatusPending:
		return next == OutboxStatusProcessing
	case OutboxStatusProcessing:
		return next == OutboxStatusProcessed || next == OutboxStatusPending || next == OutboxStatusFailed
	case OutboxStatusFailed:
		// ручной redrive
		return next == OutboxStatusPending
	default:
		return false
	}
}

// ParseOutboxStatus парсит строку в OutboxStatus.
// Возвращает false для неизвестного значения.
func ParseOutboxStatus(s string) (OutboxStatus, bool) {
	switch OutboxStatus(s) {
	case OutboxStatusPending, OutboxStatusProcessing, OutboxStatusProcessed, OutboxStatusFailed:
		return OutboxStatus(s), true
	default:
		return "", false
	}
}

// ProcessingResult — итог обработки сообщения, фиксируемый guard'ом идемпотентности.
type ProcessingResult string

const (
	// ResultSuccess — сообщение обработано, повторная доставка пропускается.
	ResultSuccess ProcessingResult = "success"

	// ResultFailure — обработка завершилась ошибкой.
	ResultFailure ProcessingResult = "failure"

	// ResultRetry — обработка в процессе или запланирован retry.
	ResultRetry ProcessingResult = "retry"
)
