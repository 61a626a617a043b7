package repo

import (
	"context"
	"sync/atomic"
)

// MemoryTxManager — TxManager для in-memory хранилищ.
//
// Изменения, зарегистрированные через Enlist внутри WithTx,
// применяются только после успешного завершения fn. При ошибке
// они отбрасываются, как при ROLLBACK.
type MemoryTxManager struct {
	commits   atomic.Int64
	rollbacks atomic.Int64
}

// NewMemoryTxManager создаёт MemoryTxManager.
func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

type memTxKey struct{}

type memTx struct {
	ops []func()
}

// WithTx выполняет fn и применяет отложенные изменения при успехе.
func (m *MemoryTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		m.rollbacks.Add(1)
		return err
	}

	for _, op := range tx.ops {
		op()
	}
	m.commits.Add(1)
	return nil
}

// Commits возвращает число успешных транзакций.
func (m *MemoryTxManager) Commits() int64 { return m.commits.Load() }

// Rollbacks возвращает число откатов.
func (m *MemoryTxManager) Rollbacks() int64 { return m.rollbacks.Load() }

// Enlist применяет apply сразу или, если ctx несёт транзакцию
// MemoryTxManager, откладывает до её фиксации.
func Enlist(ctx context.Context, apply func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.ops = append(tx.ops, apply)
		return
	}
	apply()
}

// InMemoryTx сообщает, выполняется ли ctx внутри транзакции MemoryTxManager.
func InMemoryTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{}).(*memTx)
	return ok
}
