package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func TestRedisStore_SaveGetList(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"b", "a"} {
		err := store.Save(ctx, &Execution{
			SagaID:    id,
			Name:      "book",
			Status:    StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Context:   &Context{SagaID: id, Data: map[string]any{"x": "y"}},
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Context.GetString("x") != "y" {
		t.Errorf("context data should round-trip, got %v", got.Context.Data)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].SagaID != "b" {
		t.Errorf("expected executions ordered by start time, got %d", len(all))
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestRedisStore_ExpiredEntriesPrunedFromIndex(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	store.Save(ctx, &Execution{SagaID: "old", Status: StatusCompleted, StartedAt: time.Now(), Context: &Context{}})
	mr.FastForward(2 * time.Hour)

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expired execution should not be listed, got %d", len(all))
	}
	if n, _ := mr.ZMembers(redisExecIndex); len(n) != 0 {
		t.Errorf("index should be pruned, got %v", n)
	}
}

func TestRedisStore_Sweep(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	store.Save(ctx, &Execution{SagaID: "done", Status: StatusCompensated, StartedAt: old, Context: &Context{}})
	store.Save(ctx, &Execution{SagaID: "running", Status: StatusInProgress, StartedAt: old, Context: &Context{}})
	store.Save(ctx, &Execution{SagaID: "fresh", Status: StatusCompleted, StartedAt: time.Now(), Context: &Context{}})

	removed, err := store.Sweep(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	all, _ := store.List(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 remaining, got %d", len(all))
	}
}
