package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/saga"
)

type fakeBreakers map[string]breaker.HealthStatus

func (f fakeBreakers) Snapshot() map[string]breaker.HealthStatus { return f }

type fakeSagas struct {
	count int
	err   error
}

func (f fakeSagas) ExecutionCount(context.Context) (int, error) { return f.count, f.err }

func (f fakeSagas) CountByStatus(context.Context) (map[saga.Status]int, error) {
	return map[saga.Status]int{saga.StatusCompleted: f.count}, f.err
}

type fakeDLQ struct{ healthy bool }

func (f fakeDLQ) HealthStatus(context.Context) dlq.Health {
	return dlq.Health{IsHealthy: f.healthy}
}

type fakeOutbox struct {
	stats outbox.Stats
	err   error
}

func (f fakeOutbox) Stats(context.Context) (outbox.Stats, error) { return f.stats, f.err }

// --- Check Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	c := &Checker{
		Breakers: fakeBreakers{
			"patients":      {IsHealthy: true, State: breaker.StateClosed},
			"notifications": {IsHealthy: true, State: breaker.StateClosed, FailureRate: 0.1},
		},
		Sagas:       fakeSagas{count: 3},
		DeadLetters: fakeDLQ{healthy: true},
		Outbox:      fakeOutbox{stats: outbox.Stats{Pending: 2, Processed: 10}},
	}

	rep := c.Check(context.Background())
	if !rep.Healthy() {
		t.Fatalf("status = %s, want ok", rep.Status)
	}
	if rep.Saga == nil || rep.Saga.ExecutionCount != 3 {
		t.Errorf("saga = %+v, want executionCount 3", rep.Saga)
	}
	if rep.Outbox == nil || rep.Outbox.Pending != 2 {
		t.Errorf("outbox = %+v, want pending 2", rep.Outbox)
	}
	if rep.CircuitBreaker.FailureRate != 0.1 {
		t.Errorf("worst breaker failure rate = %v, want 0.1", rep.CircuitBreaker.FailureRate)
	}
	if len(rep.CircuitBreakers) != 2 {
		t.Errorf("breakers = %d, want 2", len(rep.CircuitBreakers))
	}
}

func TestCheck_OpenBreakerDegrades(t *testing.T) {
	next := time.Now().Add(time.Minute)
	c := &Checker{
		Breakers: fakeBreakers{
			"patients":      {IsHealthy: true, State: breaker.StateHalfOpen},
			"notifications": {IsHealthy: false, State: breaker.StateOpen, NextAttemptTime: &next},
		},
	}

	rep := c.Check(context.Background())
	if rep.Healthy() {
		t.Error("report should be degraded with an OPEN breaker")
	}
	if rep.CircuitBreaker.State != breaker.StateOpen {
		t.Errorf("worst state = %s, want OPEN", rep.CircuitBreaker.State)
	}
	if rep.CircuitBreaker.NextAttemptTime == nil {
		t.Error("nextAttemptTime should be reported")
	}
}

func TestCheck_UnhealthyDLQDegrades(t *testing.T) {
	rep := (&Checker{DeadLetters: fakeDLQ{healthy: false}}).Check(context.Background())
	if rep.Healthy() {
		t.Error("report should be degraded with unhealthy dlq")
	}
}

func TestCheck_SourceErrors(t *testing.T) {
	c := &Checker{
		Sagas:  fakeSagas{err: errors.New("redis down")},
		Outbox: fakeOutbox{err: errors.New("db down")},
	}

	rep := c.Check(context.Background())
	if rep.Healthy() {
		t.Error("report should be degraded when sources fail")
	}
	if rep.Errors["saga"] == "" || rep.Errors["outbox"] == "" {
		t.Errorf("errors = %v, want saga and outbox", rep.Errors)
	}
	if rep.Outbox != nil {
		t.Error("outbox stats should be omitted on error")
	}
}

func TestCheck_NoSources(t *testing.T) {
	rep := (&Checker{}).Check(context.Background())
	if !rep.Healthy() {
		t.Errorf("status = %s, want ok", rep.Status)
	}
	if rep.CircuitBreaker.State != breaker.StateClosed {
		t.Errorf("state = %s, want CLOSED", rep.CircuitBreaker.State)
	}
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]breaker.HealthStatus
		want breaker.State
	}{
		{"empty", nil, breaker.StateClosed},
		{"closed", map[string]breaker.HealthStatus{"a": {State: breaker.StateClosed}}, breaker.StateClosed},
		{"half open wins", map[string]breaker.HealthStatus{
			"a": {State: breaker.StateClosed, FailureRate: 0.9},
			"b": {State: breaker.StateHalfOpen},
		}, breaker.StateHalfOpen},
		{"open wins", map[string]breaker.HealthStatus{
			"a": {State: breaker.StateHalfOpen},
			"b": {State: breaker.StateOpen},
			"c": {State: breaker.StateClosed},
		}, breaker.StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Worst(tt.in).State; got != tt.want {
				t.Errorf("Worst() = %s, want %s", got, tt.want)
			}
		})
	}
}
