package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisExecPrefix = "saga:exec:"
	redisExecIndex  = "saga:executions"

	defaultRedisTTL = 7 * 24 * time.Hour
)

// RedisStore — ExecutionStore поверх Redis.
//
// Выполнение хранится JSON-строкой с TTL, индекс — sorted set
// с score = StartedAt (unix ms). Записи, истёкшие по TTL,
// вычищаются из индекса при List и Sweep.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore создаёт RedisStore. ttl <= 0 — 7 дней.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func execKey(id string) string { return redisExecPrefix + id }

func (s *RedisStore) Save(ctx context.Context, exec *Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, execKey(exec.SagaID), data, s.ttl)
	pipe.ZAdd(ctx, redisExecIndex, redis.Z{
		Score:  float64(exec.StartedAt.UnixMilli()),
		Member: exec.SagaID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save execution %s: %w", exec.SagaID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sagaID string) (*Execution, error) {
	data, err := s.rdb.Get(ctx, execKey(sagaID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, sagaID)
		}
		return nil, fmt.Errorf("get execution %s: %w", sagaID, err)
	}

	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", sagaID, err)
	}
	return &exec, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Execution, error) {
	ids, err := s.rdb.ZRange(ctx, redisExecIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list execution index: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) Delete(ctx context.Context, sagaID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, execKey(sagaID))
	pipe.ZRem(ctx, redisExecIndex, sagaID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete execution %s: %w", sagaID, err)
	}
	return nil
}

func (s *RedisStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, redisExecIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli()-1, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range execution index: %w", err)
	}

	execs, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, exec := range execs {
		if !exec.Status.IsTerminal() {
			continue
		}
		if err := s.Delete(ctx, exec.SagaID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// load читает выполнения по id и убирает из индекса истёкшие.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = execKey(id)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget executions: %w", err)
	}

	var stale []any
	out := make([]*Execution, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var exec Execution
		if err := json.Unmarshal([]byte(raw), &exec); err != nil {
			return nil, fmt.Errorf("unmarshal execution %s: %w", ids[i], err)
		}
		out = append(out, &exec)
	}

	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, redisExecIndex, stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune execution index: %w", err)
		}
	}

	return out, nil
}
