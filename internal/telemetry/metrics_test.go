package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// Не должно паниковать
	m.BreakerState("db", "CLOSED", "OPEN")
	m.SagaFinished("book", "COMPLETED")
	m.SagaCompensation("book", "persist", false)
	m.DLQRetryScheduled("q")
	m.DLQDeadLettered("q")
	m.OutboxPublish("published")
	m.OutboxBacklog("PENDING", 3)
	m.IdempotencySkip("duplicate")
	m.MessageProcessed("confirmed")
}

func TestMetrics_BreakerState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.BreakerState("db", "CLOSED", "OPEN")

	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("db")); got != 2 {
		t.Errorf("expected state gauge 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerTransitions.WithLabelValues("db", "CLOSED", "OPEN")); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
}

func TestMetrics_OutboxBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OutboxBacklog("FAILED", 7)

	if got := testutil.ToFloat64(m.outboxBacklog.WithLabelValues("FAILED")); got != 7 {
		t.Errorf("expected 7, got %v", got)
	}
}

// --- Logging Tests ---

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "text")

	WithSagaID(logger, "s-1").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "saga_id=s-1") {
		t.Errorf("expected saga_id in text output, got %q", out)
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")

	WithMessageID(logger, "m-1").Debug("skipped")
	WithMessageID(logger, "m-1").Info("kept")

	out := buf.String()
	if strings.Contains(out, "skipped") {
		t.Error("debug record should be filtered at INFO level")
	}
	if !strings.Contains(out, `"message_id":"m-1"`) {
		t.Errorf("expected message_id in json output, got %q", out)
	}
}
