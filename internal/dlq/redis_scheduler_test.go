package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

func mustUUID(t *testing.T, i int) uuid.UUID {
	t.Helper()
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(i)})
}

func newTestRedisScheduler(t *testing.T) (*RedisScheduler, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewRedisScheduler(rdb, "")
	s.now = func() time.Time { return now }
	return s, &now
}

func TestRedisScheduler_PumpDueOnly(t *testing.T) {
	s, now := newTestRedisScheduler(t)
	ctx := context.Background()

	task := RetryTask{Message: Message{ID: "m-1", Body: []byte("{}")}, Attempt: 1, Queue: "q"}
	if err := s.Schedule(ctx, task, 2*time.Second, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	var got []RetryTask
	run := func(_ context.Context, task RetryTask) { got = append(got, task) }

	n, err := s.Pump(ctx, run)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing due, got %d (%v)", n, err)
	}

	*now = now.Add(3 * time.Second)
	n, err = s.Pump(ctx, run)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 due, got %d (%v)", n, err)
	}
	if got[0].Message.ID != "m-1" || got[0].Attempt != 1 {
		t.Errorf("unexpected task %+v", got[0])
	}

	pending, _ := s.Pending(ctx)
	if pending != 0 {
		t.Errorf("expected queue drained, got %d", pending)
	}
	if n, _ := s.Pump(ctx, run); n != 0 {
		t.Errorf("task must run once, got %d more", n)
	}
}

func TestHandler_PumpRetriesThroughRedis(t *testing.T) {
	s, now := newTestRedisScheduler(t)
	ctx := context.Background()

	store := NewMemoryStore()
	var calls int
	h := New(Config{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		Store:      store,
		Scheduler:  s,
		Action: func(context.Context, Message) error {
			calls++
			return errTransient
		},
		Logger: telemetry.Discard(),
	})

	_ = h.HandleFailedMessage(ctx, Message{ID: "m-1"}, errTransient, 1, "q")
	if pending, _ := s.Pending(ctx); pending != 1 {
		t.Fatalf("expected 1 queued retry, got %d", pending)
	}

	*now = now.Add(2 * time.Second)
	if _, err := h.PumpRetries(ctx); err != nil {
		t.Fatalf("pump: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected 1 retry call, got %d", calls)
	}
	if count(t, store) != 1 {
		t.Error("expected dead letter after retry failure at max retries")
	}
}

func TestHandler_PumpRetriesTimerNoop(t *testing.T) {
	sched := NewTimerScheduler()
	defer sched.Stop()
	h := New(Config{Scheduler: sched, Logger: telemetry.Discard()})

	if n, err := h.PumpRetries(context.Background()); n != 0 || err != nil {
		t.Errorf("expected no-op, got %d (%v)", n, err)
	}
}
