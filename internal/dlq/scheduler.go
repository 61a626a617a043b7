package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RetryTask — отложенная повторная обработка сообщения.
type RetryTask struct {
	ID            uuid.UUID `json:"id"`
	Message       Message   `json:"message"`
	Reason        string    `json:"reason"`
	Attempt       int       `json:"attempt"`
	Queue         string    `json:"queue"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	DueAt         time.Time `json:"due_at"`
}

// RetryFunc выполняет повтор, когда подошёл его срок.
type RetryFunc func(ctx context.Context, task RetryTask)

// RetryScheduler откладывает повтор без блокировки вызывающего воркера.
type RetryScheduler interface {
	Schedule(ctx context.Context, task RetryTask, delay time.Duration, run RetryFunc) error
}

// Pumper — планировщик, чьи задачи нужно периодически забирать (delay queue).
type Pumper interface {
	Pump(ctx context.Context, run RetryFunc) (int, error)
}

// TimerScheduler выполняет повторы в процессе через time.AfterFunc.
//
// Stop отменяет ещё не сработавшие таймеры и ждёт завершения
// уже запущенных повторов. Отложенные повторы при рестарте теряются;
// для переживающих рестарт повторов используйте RedisScheduler.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTimerScheduler создаёт TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		timers: make(map[*time.Timer]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *TimerScheduler) Schedule(_ context.Context, task RetryTask, delay time.Duration, run RetryFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		delete(s.timers, t)
		stopped := s.stopped
		s.mu.Unlock()

		if stopped {
			return
		}
		run(s.ctx, task)
	})
	s.timers[t] = struct{}{}
	return nil
}

// Pending возвращает число ещё не сработавших повторов.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop останавливает планировщик.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
}

const (
	defaultRetryQueueKey = "dlq:retries"
	defaultPumpBatch     = 100
)

// RedisScheduler — delay queue в Redis sorted set (score = DueAt, unix ms).
//
// Задачи переживают рестарт воркера. Pump забирает созревшие задачи;
// ZREM служит захватом, поэтому несколько воркеров не выполнят одну задачу дважды.
type RedisScheduler struct {
	rdb   *redis.Client
	key   string
	batch int64
	now   func() time.Time
}

// NewRedisScheduler создаёт RedisScheduler. Пустой key — "dlq:retries".
func NewRedisScheduler(rdb *redis.Client, key string) *RedisScheduler {
	if key == "" {
		key = defaultRetryQueueKey
	}
	return &RedisScheduler{rdb: rdb, key: key, batch: defaultPumpBatch, now: time.Now}
}

func (s *RedisScheduler) Schedule(ctx context.Context, task RetryTask, delay time.Duration, _ RetryFunc) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.DueAt = s.now().Add(delay).UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal retry task: %w", err)
	}

	err = s.rdb.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue retry task: %w", err)
	}
	return nil
}

// Pump выполняет созревшие задачи и возвращает их число.
func (s *RedisScheduler) Pump(ctx context.Context, run RetryFunc) (int, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: s.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range retry queue: %w", err)
	}

	done := 0
	for _, member := range members {
		removed, err := s.rdb.ZRem(ctx, s.key, member).Result()
		if err != nil {
			return done, fmt.Errorf("claim retry task: %w", err)
		}
		if removed == 0 {
			continue
		}

		var task RetryTask
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			return done, fmt.Errorf("unmarshal retry task: %w", err)
		}
		run(ctx, task)
		done++
	}
	return done, nil
}

// Pending возвращает число задач в очереди.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.key).Result()
}
