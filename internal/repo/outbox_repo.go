package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

// OutboxRepo — репозиторий событий outbox.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

// NewOutboxRepo создаёт новый OutboxRepo.
func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

const outboxColumns = `id, aggregate_id, aggregate_type, event_type, event_data, created_at,
	processed_at, retry_count, max_retries, status, error, version`

// Insert сохраняет событие. Вызывается внутри транзакции бизнес-записи.
func (r *OutboxRepo) Insert(ctx context.Context, ev *domain.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (id, aggregate_id, aggregate_type, event_type, event_data,
		                           created_at, retry_count, max_retries, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, query,
		ev.ID,
		ev.AggregateID,
		ev.AggregateType,
		ev.EventType,
		ev.EventData,
		ev.CreatedAt,
		ev.RetryCount,
		ev.MaxRetries,
		ev.Status,
		ev.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert outbox event: %w", err)
	}
	// событие с таким id уже записано
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ClaimPending атомарно переводит до limit самых старых PENDING-событий
// в PROCESSING и возвращает их в порядке created_at.
// FOR UPDATE SKIP LOCKED не даёт двум публикаторам взять одно событие.
func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET status = 'PROCESSING', claimed_at = now()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'PENDING'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := conn(ctx, r.pool).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	events, err := scanOutboxEvents(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// MarkProcessed фиксирует успешную публикацию.
func (r *OutboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = 'PROCESSED', processed_at = $2, error = NULL
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return r.transition(ctx, query, id, at)
}

// MarkRetry возвращает событие в PENDING с новым счётчиком попыток.
func (r *OutboxRepo) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	query := `
		UPDATE outbox_events
		SET status = 'PENDING', retry_count = $2, error = $3, claimed_at = NULL
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return r.transition(ctx, query, id, retryCount, errMsg)
}

// MarkFailed окончательно помечает событие как FAILED.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	query := `
		UPDATE outbox_events
		SET status = 'FAILED', retry_count = $2, error = $3
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return r.transition(ctx, query, id, retryCount, errMsg)
}

func (r *OutboxRepo) transition(ctx context.Context, query string, args ...any) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// DeleteProcessedBefore удаляет PROCESSED-события старше before.
func (r *OutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM outbox_events WHERE status = 'PROCESSED' AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete processed outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueFailed возвращает до limit FAILED-событий в PENDING со сброшенным счётчиком.
func (r *OutboxRepo) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	query := `
		UPDATE outbox_events
		SET status = 'PENDING', retry_count = 0, error = NULL, claimed_at = NULL
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'FAILED'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseStuck возвращает в PENDING события, захваченные раньше before.
func (r *OutboxRepo) ReleaseStuck(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'PROCESSING' AND claimed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("release stuck outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus возвращает число событий по статусам.
func (r *OutboxRepo) CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT status, count(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutboxStatus]int)
	for rows.Next() {
		var status domain.OutboxStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// List возвращает события со статусом status (пустой — все), новые первыми.
func (r *OutboxRepo) List(ctx context.Context, status domain.OutboxStatus, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, nullString(string(status)), limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	return scanOutboxEvents(rows)
}

func scanOutboxEvents(rows pgx.Rows) ([]*domain.OutboxEvent, error) {
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		var errMsg *string
		err := rows.Scan(
			&ev.ID,
			&ev.AggregateID,
			&ev.AggregateType,
			&ev.EventType,
			&ev.EventData,
			&ev.CreatedAt,
			&ev.ProcessedAt,
			&ev.RetryCount,
			&ev.MaxRetries,
			&ev.Status,
			&errMsg,
			&ev.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		if errMsg != nil {
			ev.Error = *errMsg
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
