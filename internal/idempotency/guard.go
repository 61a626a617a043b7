package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

// Config — конфигурация Guard.
type Config struct {
	Store Store

	TTL      time.Duration // срок жизни записи (default: 24h)
	ClaimTTL time.Duration // срок жизни захвата in-flight (default: 5m)

	Now     func() time.Time
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Guard — защита от повторной обработки сообщений.
//
// Ошибки хранилища не прерывают обработку: сообщение считается
// необработанным, система деградирует к at-least-once.
type Guard struct {
	store    Store
	ttl      time.Duration
	claimTTL time.Duration
	now      func() time.Time
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// New создаёт Guard.
func New(cfg Config) *Guard {
	g := &Guard{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		claimTTL: cfg.ClaimTTL,
		now:      cfg.Now,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if g.ttl <= 0 {
		g.ttl = 24 * time.Hour
	}
	if g.claimTTL <= 0 {
		g.claimTTL = 5 * time.Minute
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// IsProcessed сообщает, есть ли успешная неистёкшая запись для сообщения.
func (g *Guard) IsProcessed(ctx context.Context, msg Message) bool {
	rec, err := g.store.Get(ctx, msg.Key())
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			g.logger.Warn("idempotency check failed, assuming not processed",
				"message_key", msg.Key(),
				"error", err,
			)
		}
		return false
	}
	return rec.Result == domain.ResultSuccess && !rec.IsExpired(g.now())
}

// MarkAsProcessed записывает результат обработки сообщения.
func (g *Guard) MarkAsProcessed(ctx context.Context, msg Message, result domain.ProcessingResult, metadata map[string]string) error {
	now := g.now().UTC()
	rec := &domain.IdempotencyRecord{
		MessageKey:  msg.Key(),
		BodyHash:    msg.BodyHash(),
		ProcessedAt: now,
		ExpiresAt:   now.Add(g.ttl),
		Result:      result,
		Metadata:    metadata,
	}

	if err := g.store.Put(ctx, rec); err != nil {
		g.logger.Error("failed to mark message as processed",
			"message_key", rec.MessageKey,
			"result", result,
			"error", err,
		)
		return fmt.Errorf("mark message %s: %w", rec.MessageKey, err)
	}
	return nil
}

// Uniqueness — результат проверки содержимого сообщения.
type Uniqueness struct {
	IsUnique bool
	Existing *domain.IdempotencyRecord
}

// ValidateMessageUniqueness ищет успешно обработанное сообщение
// с тем же содержимым под другим ключом.
func (g *Guard) ValidateMessageUniqueness(ctx context.Context, msg Message) Uniqueness {
	rec, err := g.store.FindByHash(ctx, msg.BodyHash())
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			g.logger.Warn("content uniqueness check failed, assuming unique",
				"message_key", msg.Key(),
				"error", err,
			)
		}
		return Uniqueness{IsUnique: true}
	}

	if rec.MessageKey == msg.Key() || rec.IsExpired(g.now()) {
		return Uniqueness{IsUnique: true}
	}
	return Uniqueness{IsUnique: false, Existing: rec}
}

// MarkDuplicateOf помечает сообщение обработанным по ссылке на existing.
func (g *Guard) MarkDuplicateOf(ctx context.Context, msg Message, existing *domain.IdempotencyRecord) error {
	g.metrics.IdempotencySkip("content")
	return g.MarkAsProcessed(ctx, msg, domain.ResultSuccess, map[string]string{
		"duplicate_of": existing.MessageKey,
	})
}

// Claim атомарно захватывает сообщение для обработки.
//
// Возвращает ErrDuplicate, если сообщение уже успешно обработано,
// и ErrInFlight, если неистёкший захват держит другой воркер или
// перезахват выиграл конкурент. Запись с result=failure или истёкший
// захват перезахватываются.
func (g *Guard) Claim(ctx context.Context, msg Message) error {
	now := g.now().UTC()
	rec := &domain.IdempotencyRecord{
		MessageKey:  msg.Key(),
		BodyHash:    msg.BodyHash(),
		ProcessedAt: now,
		ExpiresAt:   now.Add(g.claimTTL),
		Result:      domain.ResultRetry,
		Metadata:    map[string]string{"state": "in_flight"},
	}

	ok, err := g.store.PutIfAbsent(ctx, rec)
	if err != nil {
		g.logger.Warn("idempotency claim failed, processing anyway",
			"message_key", rec.MessageKey,
			"error", err,
		)
		return nil
	}
	if ok {
		return nil
	}

	existing, err := g.store.Get(ctx, rec.MessageKey)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		// Запись истекла между PutIfAbsent и Get.
		existing = nil
	case err != nil:
		g.logger.Warn("idempotency claim check failed, processing anyway",
			"message_key", rec.MessageKey,
			"error", err,
		)
		return nil
	case existing.Result == domain.ResultSuccess:
		g.metrics.IdempotencySkip("duplicate")
		return ErrDuplicate
	case existing.Result == domain.ResultRetry && !existing.IsExpired(g.now()):
		g.metrics.IdempotencySkip("in_flight")
		return ErrInFlight
	}

	// Перезахват — compare-and-set по прочитанной записи: из
	// конкурентных перезахватов успешен один.
	ok, err = g.store.ReplaceIf(ctx, rec, existing)
	if err != nil {
		g.logger.Warn("idempotency reclaim failed, processing anyway",
			"message_key", rec.MessageKey,
			"error", err,
		)
		return nil
	}
	if !ok {
		g.metrics.IdempotencySkip("in_flight")
		return ErrInFlight
	}
	return nil
}

// Release снимает захват без записи результата.
func (g *Guard) Release(ctx context.Context, msg Message) error {
	return g.store.Delete(ctx, msg.Key())
}

// Sweep удаляет истёкшие записи.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	n, err := g.store.Sweep(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency records: %w", err)
	}
	if n > 0 {
		g.logger.Info("idempotency records swept", "removed", n)
	}
	return n, nil
}
