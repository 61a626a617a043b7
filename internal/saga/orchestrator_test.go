package saga

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

var errTransient = errors.New("connection reset")

// recorder записывает порядок вызовов действий и компенсаций.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// register регистрирует обработчик, который падает с failErr, если он задан.
func register(reg *Registry, rec *recorder, name string, failErr error) {
	reg.Register(name, HandlerFuncs{
		Action: func(ctx context.Context, sc *Context) (any, error) {
			rec.add("do:" + name)
			if failErr != nil {
				return nil, failErr
			}
			return name + "-result", nil
		},
		Compensation: func(ctx context.Context, sc *Context) error {
			rec.add("undo:" + name)
			return nil
		},
	})
}

func newTestOrchestrator(reg *Registry) *Orchestrator {
	return New(Config{
		Registry:    reg,
		BackoffBase: time.Millisecond,
		Logger:      telemetry.Discard(),
	})
}

func steps(names ...string) []Step {
	out := make([]Step, len(names))
	for i, n := range names {
		out[i] = Step{ID: n, Name: n, Handler: n}
	}
	return out
}

// --- ExecuteSaga Tests ---

func TestExecuteSaga_AllStepsSucceed(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	for _, n := range []string{"a", "b", "c"} {
		register(reg, rec, n, nil)
	}
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", steps("a", "b", "c"), map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", exec.Status)
	}
	want := []string{"do:a", "do:b", "do:c"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v (no compensation must run)", want, got)
	}
	if exec.Context.GetString("k") != "v" {
		t.Error("initial data should be kept in context")
	}
	if exec.Context.GetString("b") != "b-result" {
		t.Errorf("step result should be stored under step id, got %v", exec.Context.Data["b"])
	}
	if exec.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestExecuteSaga_CompensatesInReverseOrder(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	register(reg, rec, "s0", nil)
	register(reg, rec, "s1", nil)
	register(reg, rec, "s2", nil)
	register(reg, rec, "s3", domain.Permanent(errors.New("business rule")))
	register(reg, rec, "s4", nil)
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", steps("s0", "s1", "s2", "s3", "s4"), nil)
	if !errors.Is(err, ErrSagaFailed) {
		t.Fatalf("expected ErrSagaFailed, got %v", err)
	}
	if !domain.IsPermanent(err) {
		t.Error("cause should stay permanent through the saga error")
	}

	if exec.Status != StatusCompensated {
		t.Errorf("expected COMPENSATED, got %s", exec.Status)
	}

	want := []string{"do:s0", "do:s1", "do:s2", "do:s3", "undo:s2", "undo:s1", "undo:s0"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if exec.CurrentStepIndex != 3 {
		t.Errorf("expected current step index 3, got %d", exec.CurrentStepIndex)
	}
	if exec.Error == "" {
		t.Error("execution error should be recorded")
	}
}

func TestExecuteSaga_FirstStepFailureIsCompensated(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	register(reg, rec, "only", errors.New("nope"))
	orch := newTestOrchestrator(reg)

	exec, _ := orch.ExecuteSaga(context.Background(), "test", steps("only"), nil)

	// Шаг был начат — итог COMPENSATED, не FAILED
	if exec.Status != StatusCompensated {
		t.Errorf("expected COMPENSATED, got %s", exec.Status)
	}
	if got := rec.get(); !reflect.DeepEqual(got, []string{"do:only"}) {
		t.Errorf("failed step must not be compensated, got %v", got)
	}
}

func TestExecuteSaga_CompensationErrorDoesNotStopChain(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	register(reg, rec, "a", nil)
	reg.Register("b", HandlerFuncs{
		Action: func(ctx context.Context, sc *Context) (any, error) {
			rec.add("do:b")
			return nil, nil
		},
		Compensation: func(ctx context.Context, sc *Context) error {
			rec.add("undo:b")
			return errors.New("compensation broken")
		},
	})
	register(reg, rec, "c", errors.New("fail"))
	orch := newTestOrchestrator(reg)

	exec, _ := orch.ExecuteSaga(context.Background(), "test", steps("a", "b", "c"), nil)

	if exec.Status != StatusCompensated {
		t.Errorf("expected COMPENSATED, got %s", exec.Status)
	}
	want := []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	var bStatus StepStatus
	for _, r := range exec.Steps {
		if r.StepID == "b" {
			bStatus = r.Status
		}
	}
	if bStatus != StepCompensationFailed {
		t.Errorf("expected step b COMPENSATION_FAILED, got %s", bStatus)
	}
}

func TestExecuteSaga_RetryableStepRecovers(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	reg.Register("flaky", HandlerFuncs{
		Action: func(ctx context.Context, sc *Context) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errTransient
			}
			return "ok", nil
		},
	})
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", []Step{
		{ID: "flaky", Handler: "flaky", Retryable: true, MaxRetries: 2},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if exec.Context.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", exec.Context.RetryCount)
	}
	if exec.Steps[0].Attempts != 3 {
		t.Errorf("expected step record attempts 3, got %d", exec.Steps[0].Attempts)
	}
}

func TestExecuteSaga_RetryExhausted(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	reg.Register("down", HandlerFuncs{
		Action: func(ctx context.Context, sc *Context) (any, error) {
			attempts++
			return nil, errTransient
		},
	})
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", []Step{
		{ID: "down", Handler: "down", Retryable: true, MaxRetries: 2},
	}, nil)

	if attempts != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected transient cause, got %v", err)
	}
	if exec.Status != StatusCompensated {
		t.Errorf("expected COMPENSATED, got %s", exec.Status)
	}
}

func TestExecuteSaga_RetryWaitBudget(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	register(reg, rec, "a", nil)
	attempts := 0
	reg.Register("down", HandlerFuncs{
		Action: func(ctx context.Context, sc *Context) (any, error) {
			attempts++
			return nil, errTransient
		},
	})
	orch := New(Config{
		Registry:     reg,
		BackoffBase:  10 * time.Millisecond,
		MaxRetryWait: 25 * time.Millisecond,
		Logger:       telemetry.Discard(),
	})

	// задержки 20ms, 40ms: второй повтор не укладывается в 25ms
	exec, err := orch.ExecuteSaga(context.Background(), "test", []Step{
		{ID: "a", Handler: "a"},
		{ID: "down", Handler: "down", Retryable: true, MaxRetries: 5},
	}, nil)

	if attempts != 2 {
		t.Errorf("expected 2 attempts within budget, got %d", attempts)
	}
	if !errors.Is(err, ErrRetryBudgetExceeded) || !errors.Is(err, errTransient) {
		t.Errorf("expected budget error wrapping transient cause, got %v", err)
	}
	if domain.IsPermanent(err) {
		t.Error("budget error must stay transient")
	}
	if exec.Status != StatusCompensated {
		t.Errorf("expected COMPENSATED, got %s", exec.Status)
	}
	if exec.Context.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", exec.Context.RetryCount)
	}
}

func TestExecuteSaga_NonRetryableFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		step Step
		err  error
	}{
		{"non-retryable step", Step{ID: "x", Handler: "x", Retryable: false, MaxRetries: 5}, errTransient},
		{"permanent error", Step{ID: "x", Handler: "x", Retryable: true, MaxRetries: 5}, domain.Permanent(errTransient)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			attempts := 0
			reg.Register("x", HandlerFuncs{
				Action: func(ctx context.Context, sc *Context) (any, error) {
					attempts++
					return nil, tt.err
				},
			})
			orch := newTestOrchestrator(reg)

			orch.ExecuteSaga(context.Background(), "test", []Step{tt.step}, nil)

			if attempts != 1 {
				t.Errorf("expected exactly 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestExecuteSaga_StepTimeoutIsRetryable(t *testing.T) {
	reg := NewRegistry()
	attempts := 0
	reg.Register("slow", HandlerFuncs{
		Action: func(ctx context.Context, sc *Context) (any, error) {
			attempts++
			if attempts == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return nil, nil
		},
	})
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", []Step{
		{ID: "slow", Handler: "slow", Retryable: true, MaxRetries: 1, Timeout: 5 * time.Millisecond},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != StatusCompleted || attempts != 2 {
		t.Errorf("expected COMPLETED after 2 attempts, got %s after %d", exec.Status, attempts)
	}
}

func TestExecuteSaga_UnknownHandlerFails(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	register(reg, rec, "a", nil)
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", steps("a", "missing"), nil)

	if !errors.Is(err, ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound, got %v", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", exec.Status)
	}
	if len(rec.get()) != 0 {
		t.Error("no step should run when a handler is missing")
	}
}

func TestExecuteSaga_CancelledBetweenSteps(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	reg.Register("first", HandlerFuncs{
		Action: func(context.Context, *Context) (any, error) {
			rec.add("do:first")
			cancel()
			return nil, nil
		},
		Compensation: func(ctx context.Context, _ *Context) error {
			// Компенсация выполняется на неотменённом контексте
			if ctx.Err() != nil {
				t.Error("compensation context must not be cancelled")
			}
			rec.add("undo:first")
			return nil
		},
	})
	register(reg, rec, "second", nil)
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(ctx, "test", steps("first", "second"), nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", err)
	}
	if exec.Status != StatusCompensated {
		t.Errorf("expected COMPENSATED, got %s", exec.Status)
	}
	want := []string{"do:first", "undo:first"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestExecuteSaga_DuplicateStepID(t *testing.T) {
	reg := NewRegistry()
	register(reg, &recorder{}, "a", nil)
	orch := newTestOrchestrator(reg)

	exec, err := orch.ExecuteSaga(context.Background(), "test", steps("a", "a"), nil)
	if !errors.Is(err, ErrInvalidStep) {
		t.Errorf("expected ErrInvalidStep, got %v", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", exec.Status)
	}
}

func TestBackoff(t *testing.T) {
	orch := New(Config{Logger: telemetry.Discard()})

	for attempt, want := range map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 3: 8 * time.Second} {
		if got := orch.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}

// --- Query Tests ---

func TestExecutionQueries(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	register(reg, rec, "ok", nil)
	register(reg, rec, "bad", errors.New("x"))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orch := New(Config{
		Registry: reg,
		Now:      func() time.Time { return now },
		Logger:   telemetry.Discard(),
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		orch.ExecuteSaga(ctx, fmt.Sprintf("ok-%d", i), steps("ok"), nil)
	}
	orch.ExecuteSaga(ctx, "bad", steps("bad"), nil)

	all, _ := orch.GetAllExecutions(ctx)
	if len(all) != 4 {
		t.Fatalf("expected 4 executions, got %d", len(all))
	}

	completed, _ := orch.GetExecutionsByStatus(ctx, StatusCompleted)
	if len(completed) != 3 {
		t.Errorf("expected 3 completed, got %d", len(completed))
	}

	counts, _ := orch.CountByStatus(ctx)
	if counts[StatusCompensated] != 1 {
		t.Errorf("expected 1 compensated, got %d", counts[StatusCompensated])
	}

	got, err := orch.GetExecution(ctx, completed[0].SagaID)
	if err != nil || got.Status != StatusCompleted {
		t.Errorf("GetExecution: %v, %+v", err, got)
	}

	// Записи старше 1h удаляются
	now = now.Add(2 * time.Hour)
	removed, err := orch.CleanupExecutions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 4 {
		t.Errorf("expected 4 removed, got %d", removed)
	}
	if n, _ := orch.ExecutionCount(ctx); n != 0 {
		t.Errorf("expected empty store, got %d", n)
	}
}

func TestCleanupExecutions_KeepsNonTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	store.Save(ctx, &Execution{SagaID: "running", Status: StatusInProgress, StartedAt: old, Context: &Context{}})
	store.Save(ctx, &Execution{SagaID: "done", Status: StatusCompleted, StartedAt: old, Context: &Context{}})

	orch := New(Config{Store: store, Logger: telemetry.Discard()})
	removed, _ := orch.CleanupExecutions(ctx, 24*time.Hour)

	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, "running"); err != nil {
		t.Errorf("in-progress execution must survive cleanup: %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := &Execution{SagaID: "s", Status: StatusInProgress, Context: &Context{Data: map[string]any{"a": 1}}}
	store.Save(ctx, exec)

	exec.Context.Data["a"] = 2
	exec.Status = StatusCompleted

	got, _ := store.Get(ctx, "s")
	if got.Status != StatusInProgress || got.Context.Data["a"] != 1 {
		t.Error("store must keep an independent snapshot")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}
