package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/ClinicBooking/internal/domain"
)

const (
	redisRecordPrefix = "idem:msg:"
	redisHashPrefix   = "idem:hash:"
)

// RedisStore — Store поверх Redis.
//
// Запись хранится JSON-строкой с TTL до ExpiresAt, поэтому Redis сам
// удаляет истёкшие записи и Sweep ничего не делает. Успешные записи
// дополнительно индексируются по hash тела.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore создаёт RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func recordKey(key string) string { return redisRecordPrefix + key }

func hashKey(hash string) string { return redisHashPrefix + hash }

// ttl возвращает оставшееся время жизни записи (минимум 1ms).
func (s *RedisStore) ttl(rec *domain.IdempotencyRecord) time.Duration {
	d := rec.ExpiresAt.Sub(s.now())
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	data, err := s.rdb.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, recordKey(rec.MessageKey), data, s.ttl(rec)).Result()
	if err != nil {
		return false, fmt.Errorf("setnx idempotency record: %w", err)
	}
	if ok && rec.Result == domain.ResultSuccess {
		if err := s.rdb.Set(ctx, hashKey(rec.BodyHash), rec.MessageKey, s.ttl(rec)).Err(); err != nil {
			return true, fmt.Errorf("index idempotency hash: %w", err)
		}
	}
	return ok, nil
}

// ReplaceIf — compare-and-set через WATCH/MULTI. Если ключ изменился
// между чтением и EXEC, запись не выполняется.
func (s *RedisStore) ReplaceIf(ctx context.Context, rec, expect *domain.IdempotencyRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal idempotency record: %w", err)
	}

	key := recordKey(rec.MessageKey)
	replaced := false
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = nil
		case err != nil:
			return err
		}

		if current != nil {
			if expect == nil {
				return nil
			}
			var cur domain.IdempotencyRecord
			if err := json.Unmarshal(current, &cur); err != nil {
				return fmt.Errorf("unmarshal idempotency record: %w", err)
			}
			if !sameRecord(&cur, expect) {
				return nil
			}
		}

		ttl := s.ttl(rec)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			if rec.Result == domain.ResultSuccess && rec.BodyHash != "" {
				pipe.Set(ctx, hashKey(rec.BodyHash), rec.MessageKey, ttl)
			}
			return nil
		})
		if err == nil {
			replaced = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("replace idempotency record: %w", err)
	}
	return replaced, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *domain.IdempotencyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	ttl := s.ttl(rec)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(rec.MessageKey), data, ttl)
	if rec.Result == domain.ResultSuccess && rec.BodyHash != "" {
		pipe.Set(ctx, hashKey(rec.BodyHash), rec.MessageKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, recordKey(key)).Err(); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByHash(ctx context.Context, bodyHash string) (*domain.IdempotencyRecord, error) {
	key, err := s.rdb.Get(ctx, hashKey(bodyHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get idempotency hash: %w", err)
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Result != domain.ResultSuccess || rec.BodyHash != bodyHash {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// Sweep — no-op: истечение обеспечивает TTL ключей.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
