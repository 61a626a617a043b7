package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// DeadLetterRepo — хранилище сообщений, исчерпавших попытки.
type DeadLetterRepo struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepo создаёт новый DeadLetterRepo.
func NewDeadLetterRepo(pool *pgxpool.Pool) *DeadLetterRepo {
	return &DeadLetterRepo{pool: pool}
}

// Add сохраняет сообщение; повторное сохранение обновляет метаданные ошибки.
func (r *DeadLetterRepo) Add(ctx context.Context, m *domain.DLQMessage) error {
	query := `
		INSERT INTO dead_letters (id, message_id, original_message, failure_reason, attempt_count,
		                          first_failed_at, last_failed_at, original_queue_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET failure_reason = EXCLUDED.failure_reason,
		    attempt_count = EXCLUDED.attempt_count,
		    last_failed_at = EXCLUDED.last_failed_at
	`
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		m.ID,
		nullString(m.MessageID),
		[]byte(m.OriginalMessage),
		m.FailureReason,
		m.AttemptCount,
		m.FirstFailedAt,
		m.LastFailedAt,
		m.OriginalQueueName,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// Update обновляет метаданные ошибки после неудачного reprocess.
func (r *DeadLetterRepo) Update(ctx context.Context, m *domain.DLQMessage) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE dead_letters
		SET failure_reason = $2, attempt_count = $3, last_failed_at = $4
		WHERE id = $1
	`, m.ID, m.FailureReason, m.AttemptCount, m.LastFailedAt)
	if err != nil {
		return fmt.Errorf("update dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает до limit сообщений, самые старые первыми.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*domain.DLQMessage, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, message_id, original_message, failure_reason, attempt_count,
		       first_failed_at, last_failed_at, original_queue_name
		FROM dead_letters
		ORDER BY first_failed_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*domain.DLQMessage
	for rows.Next() {
		var m domain.DLQMessage
		var messageID *string
		var body []byte
		err := rows.Scan(
			&m.ID,
			&messageID,
			&body,
			&m.FailureReason,
			&m.AttemptCount,
			&m.FirstFailedAt,
			&m.LastFailedAt,
			&m.OriginalQueueName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if messageID != nil {
			m.MessageID = *messageID
		}
		m.OriginalMessage = body
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Remove удаляет сообщение после успешного reprocess.
func (r *DeadLetterRepo) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

// Count возвращает число сообщений в dead-letter хранилище.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT count(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}
