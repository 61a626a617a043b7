package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

var errBoom = errors.New("boom")

// fakeClock — управляемые часы для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Second,
		MonitoringPeriod: time.Minute,
		Now:              clock.Now,
		Logger:           telemetry.Discard(),
	})
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

// --- State machine Tests ---

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("expected op error, got %v", err)
		}
		if b.State() != StateClosed {
			t.Fatalf("expected CLOSED after %d failures, got %s", i+1, b.State())
		}
	}

	b.Execute(ctx, fail)

	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}
	if b.CanExecute() {
		t.Error("CanExecute should be false while OPEN")
	}

	// Операция не должна вызываться
	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
	if !openErr.NextAttemptTime.Equal(clock.Now().Add(10 * time.Second)) {
		t.Errorf("unexpected next attempt time: %v", openErr.NextAttemptTime)
	}
	if called {
		t.Error("operation must not run while OPEN")
	}
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()

	b.ForceOpen()

	clock.Advance(9 * time.Second)
	if b.CanExecute() {
		t.Error("CanExecute should be false before recovery timeout")
	}

	clock.Advance(time.Second)
	if !b.CanExecute() {
		t.Error("CanExecute should be true after recovery timeout")
	}

	// Первый вызов видит HALF_OPEN до выполнения
	var seen State
	b.Execute(ctx, func(context.Context) error {
		seen = b.State()
		return nil
	})
	if seen != StateHalfOpen {
		t.Errorf("expected HALF_OPEN during trial call, got %s", seen)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("one success should keep HALF_OPEN, got %s", b.State())
	}

	b.Execute(ctx, succeed)
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after success threshold, got %s", b.State())
	}

	// Счётчики сброшены: снова нужно 3 ошибки
	b.Execute(ctx, fail)
	b.Execute(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("counters should be reset after closing, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()

	b.ForceOpen()
	clock.Advance(10 * time.Second)

	b.Execute(ctx, fail)

	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after half-open failure, got %s", b.State())
	}
	hs := b.HealthStatus()
	if hs.NextAttemptTime == nil || !hs.NextAttemptTime.Equal(clock.Now().Add(10*time.Second)) {
		t.Errorf("next attempt time should be reset, got %v", hs.NextAttemptTime)
	}
}

func TestBreaker_FailureCountResetsAfterMonitoringPeriod(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()

	b.Execute(ctx, fail)
	b.Execute(ctx, fail)

	// Успех в пределах окна не сбрасывает счётчик
	b.Execute(ctx, succeed)
	b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, success inside monitoring period must not reset, got %s", b.State())
	}

	b.ForceClose()
	b.Execute(ctx, fail)
	b.Execute(ctx, fail)

	clock.Advance(2 * time.Minute)
	b.Execute(ctx, succeed)
	b.Execute(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("success after monitoring period should reset failures, got %s", b.State())
	}
}

func TestBreaker_NextAttemptTimeSetOnlyWhenOpen(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	if b.HealthStatus().NextAttemptTime != nil {
		t.Error("CLOSED breaker must not expose next attempt time")
	}

	b.ForceOpen()
	if b.HealthStatus().NextAttemptTime == nil {
		t.Error("OPEN breaker must expose next attempt time")
	}

	clock.Advance(10 * time.Second)
	b.Execute(context.Background(), succeed)
	if b.HealthStatus().NextAttemptTime != nil {
		t.Error("HALF_OPEN breaker must not expose next attempt time")
	}
}

func TestBreaker_HealthStatus(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()

	b.Execute(ctx, succeed)
	b.Execute(ctx, fail)
	b.Execute(ctx, succeed)
	b.Execute(ctx, fail)

	hs := b.HealthStatus()
	if !hs.IsHealthy {
		t.Error("CLOSED breaker should be healthy")
	}
	if hs.FailureRate != 0.5 {
		t.Errorf("expected failure rate 0.5, got %v", hs.FailureRate)
	}

	b.ForceOpen()
	if b.HealthStatus().IsHealthy {
		t.Error("OPEN breaker should not be healthy")
	}
}

func TestBreaker_Timeout(t *testing.T) {
	b := New(Config{
		Name:             "slow",
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
		Logger:           telemetry.Discard(),
	})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("timeout should count as failure, got %s", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string

	b := New(Config{
		Name:             "db",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
		Now:              clock.Now,
		Logger:           telemetry.Discard(),
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, string(from)+"->"+string(to))
		},
	})
	ctx := context.Background()

	b.Execute(ctx, fail)
	clock.Advance(time.Second)
	b.Execute(ctx, succeed)

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestRun_ReturnsResult(t *testing.T) {
	b := New(Config{Name: "calc", Logger: telemetry.Discard()})

	got, err := Run(context.Background(), b, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestBreaker_ConcurrentFailuresExactThreshold(t *testing.T) {
	b := New(Config{
		Name:             "concurrent",
		FailureThreshold: 50,
		Logger:           telemetry.Discard(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 49; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Execute(context.Background(), fail)
		}()
	}
	wg.Wait()

	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after 49 failures, got %s", b.State())
	}

	b.Execute(context.Background(), fail)
	if b.State() != StateOpen {
		t.Errorf("expected OPEN after 50th failure, got %s", b.State())
	}
}

// --- Registry Tests ---

func TestRegistry_GetCreatesOnce(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Logger: telemetry.Discard()})

	a := r.Get("patients")
	b := r.Get("patients")
	if a != b {
		t.Error("Get should return the same breaker for the same name")
	}
	if a.Name() != "patients" {
		t.Errorf("expected name patients, got %s", a.Name())
	}

	if _, err := r.Lookup("missing"); !errors.Is(err, ErrUnknownBreaker) {
		t.Errorf("expected ErrUnknownBreaker, got %v", err)
	}

	r.Get("appointments")
	names := r.Names()
	if len(names) != 2 || names[0] != "appointments" || names[1] != "patients" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Logger: telemetry.Discard()})

	r.Get("db").Execute(context.Background(), fail)
	r.Get("mq")

	snap := r.Snapshot()
	if snap["db"].State != StateOpen {
		t.Errorf("expected db OPEN, got %s", snap["db"].State)
	}
	if !snap["mq"].IsHealthy {
		t.Error("expected mq healthy")
	}
}
