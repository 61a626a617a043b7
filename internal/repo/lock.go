package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock — сессионная pg_advisory_lock для выбора лидера.
//
// Блокировка принадлежит соединению, поэтому лидер держит
// выделенное соединение из пула до Release.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewAdvisoryLock создаёт блокировку с ключом key.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryAcquire пытается стать лидером. Повторный вызов лидером
// проверяет, что соединение живо.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// Соединение потеряно — вместе с ним и блокировка
		l.conn.Release()
		l.conn = nil
	}

	c, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := c.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		c.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}

	if !ok {
		c.Release()
		return false, nil
	}

	l.conn = c
	return true, nil
}

// Held сообщает, удерживается ли блокировка.
func (l *AdvisoryLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Release снимает блокировку и возвращает соединение в пул.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	_, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key)
	l.conn.Release()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
