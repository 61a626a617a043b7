package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/health"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/saga"
)

type fakeHealth struct{ report health.Report }

func (f fakeHealth) Check(context.Context) health.Report { return f.report }

type fakeSagas struct {
	execs []*saga.Execution
}

func (f *fakeSagas) GetExecution(_ context.Context, id string) (*saga.Execution, error) {
	for _, e := range f.execs {
		if e.SagaID == id {
			return e, nil
		}
	}
	return nil, saga.ErrExecutionNotFound
}

func (f *fakeSagas) GetAllExecutions(context.Context) ([]*saga.Execution, error) {
	return f.execs, nil
}

func (f *fakeSagas) GetExecutionsByStatus(_ context.Context, status saga.Status) ([]*saga.Execution, error) {
	var out []*saga.Execution
	for _, e := range f.execs {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeDeadLetters struct {
	msgs      []*domain.DLQMessage
	processed int
	err       error
}

func (f *fakeDeadLetters) ProcessDLQMessages(context.Context) (dlq.Result, error) {
	return dlq.Result{Processed: f.processed}, f.err
}

func (f *fakeDeadLetters) List(_ context.Context, limit int) ([]*domain.DLQMessage, error) {
	if len(f.msgs) > limit {
		return f.msgs[:limit], nil
	}
	return f.msgs, nil
}

type fakeOutbox struct {
	stats      outbox.Stats
	events     []*domain.OutboxEvent
	lastStatus domain.OutboxStatus
	lastLimit  int
}

func (f *fakeOutbox) Stats(context.Context) (outbox.Stats, error) { return f.stats, nil }

func (f *fakeOutbox) Redrive(_ context.Context, limit int) (int64, error) {
	f.lastLimit = limit
	return 2, nil
}

func (f *fakeOutbox) List(_ context.Context, status domain.OutboxStatus, limit int) ([]*domain.OutboxEvent, error) {
	f.lastStatus = status
	f.lastLimit = limit
	return f.events, nil
}

type fakeBookings struct {
	got []domain.BookingRequest
	err error
}

func (f *fakeBookings) PublishBooking(_ context.Context, req domain.BookingRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.got = append(f.got, req)
	return "msg-1", nil
}

func newTestHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	return NewHandler(cfg).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- Health Tests ---

func TestLiveness(t *testing.T) {
	rec := do(t, newTestHandler(Config{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHealth_StatusCodes(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{health.StatusOK, http.StatusOK},
		{health.StatusDegraded, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			h := newTestHandler(Config{Health: fakeHealth{report: health.Report{Status: tt.status}}})
			rec := do(t, h, http.MethodGet, "/health", "")
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
			rep := decode[health.Report](t, rec)
			if rep.Status != tt.status {
				t.Errorf("status = %q, want %q", rep.Status, tt.status)
			}
		})
	}
}

func TestHealth_NotConfigured(t *testing.T) {
	rec := do(t, newTestHandler(Config{}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "clinic_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := do(t, newTestHandler(Config{Gatherer: reg}), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clinic_test_total 1") {
		t.Errorf("metric missing in %q", rec.Body.String())
	}
}

// --- Booking Tests ---

func TestCreateBooking_Accepted(t *testing.T) {
	pub := &fakeBookings{}
	h := newTestHandler(Config{Bookings: pub})

	at := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"psychologist_id":"` + uuid.NewString() + `","patient_email":"a@example.com","scheduled_at":"` + at + `"}`

	rec := do(t, h, http.MethodPost, "/api/v1/bookings", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[struct {
		Data BookingAcceptedResponse `json:"data"`
	}](t, rec)
	if resp.Data.MessageID != "msg-1" {
		t.Errorf("message_id = %q", resp.Data.MessageID)
	}
	if len(pub.got) != 1 {
		t.Fatalf("published %d, want 1", len(pub.got))
	}
	// id записи выводится worker'ом из ключа сообщения
	if pub.got[0].AppointmentID != uuid.Nil {
		t.Errorf("appointment id = %s, want unset", pub.got[0].AppointmentID)
	}
	if pub.got[0].DurationMin != domain.DefaultDurationMin {
		t.Errorf("duration = %d, want default", pub.got[0].DurationMin)
	}
}

func TestCreateBooking_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"psychologist_id":`},
		{"missing psychologist", `{"patient_email":"a@example.com","scheduled_at":"2099-01-01T10:00:00Z"}`},
		{"past date", `{"psychologist_id":"` + uuid.NewString() + `","patient_email":"a@example.com","scheduled_at":"2001-01-01T10:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakeBookings{}
			rec := do(t, newTestHandler(Config{Bookings: pub}), http.MethodPost, "/api/v1/bookings", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", rec.Code)
			}
			if len(pub.got) != 0 {
				t.Error("invalid booking must not be published")
			}
		})
	}
}

func TestCreateBooking_QueueDown(t *testing.T) {
	pub := &fakeBookings{err: errors.New("connection closed")}
	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	body := `{"psychologist_id":"` + uuid.NewString() + `","patient_id":"` + uuid.NewString() + `","scheduled_at":"` + at + `"}`

	rec := do(t, newTestHandler(Config{Bookings: pub}), http.MethodPost, "/api/v1/bookings", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

// --- Saga Tests ---

func TestListSagas(t *testing.T) {
	sagas := &fakeSagas{execs: []*saga.Execution{
		{SagaID: "s1", Name: "book_appointment", Status: saga.StatusCompleted},
		{SagaID: "s2", Name: "book_appointment", Status: saga.StatusCompensated, Error: "slot conflict"},
		{SagaID: "s3", Name: "book_appointment", Status: saga.StatusCompleted},
	}}
	h := newTestHandler(Config{Sagas: sagas})

	type listResp struct {
		Data  []SagaResponse `json:"data"`
		Total int            `json:"total"`
	}

	rec := do(t, h, http.MethodGet, "/api/v1/sagas?limit=2", "")
	resp := decode[listResp](t, rec)
	if resp.Total != 3 || len(resp.Data) != 2 {
		t.Fatalf("total=%d len=%d, want 3/2", resp.Total, len(resp.Data))
	}
	if resp.Data[0].SagaID != "s3" {
		t.Errorf("first = %s, want newest s3", resp.Data[0].SagaID)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/sagas?status=COMPENSATED", "")
	resp = decode[listResp](t, rec)
	if len(resp.Data) != 1 || resp.Data[0].Error != "slot conflict" {
		t.Errorf("filtered = %+v", resp.Data)
	}
	if resp.Data[0].CompletedSteps == nil {
		t.Error("completed_steps should be an empty list, not null")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/sagas?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status code = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/sagas?limit=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d, want 400", rec.Code)
	}
}

func TestGetSaga(t *testing.T) {
	sagas := &fakeSagas{execs: []*saga.Execution{{
		SagaID: "s1",
		Status: saga.StatusCompleted,
		Context: &saga.Context{
			SagaID:         "s1",
			CompletedSteps: []string{"validate_patient", "persist_appointment"},
			RetryCount:     1,
		},
	}}}
	h := newTestHandler(Config{Sagas: sagas})

	rec := do(t, h, http.MethodGet, "/api/v1/sagas/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decode[struct {
		Data SagaResponse `json:"data"`
	}](t, rec)
	if len(resp.Data.CompletedSteps) != 2 || resp.Data.RetryCount != 1 {
		t.Errorf("saga = %+v", resp.Data)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/sagas/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing code = %d, want 404", rec.Code)
	}
}

// --- DLQ Tests ---

func TestListDeadLetters_BodyEncoding(t *testing.T) {
	dl := &fakeDeadLetters{msgs: []*domain.DLQMessage{
		{ID: uuid.New(), OriginalMessage: []byte(`{"psychologist_id":"x"}`), AttemptCount: 3},
		{ID: uuid.New(), OriginalMessage: []byte("not json"), AttemptCount: 1},
	}}
	rec := do(t, newTestHandler(Config{DeadLetters: dl}), http.MethodGet, "/api/v1/dlq", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[struct {
		Data []DeadLetterResponse `json:"data"`
	}](t, rec)
	if len(resp.Data) != 2 {
		t.Fatalf("len = %d", len(resp.Data))
	}
	if string(resp.Data[0].OriginalMessage) != `{"psychologist_id":"x"}` {
		t.Errorf("json body = %s", resp.Data[0].OriginalMessage)
	}
	if resp.Data[1].OriginalMessageText != "not json" || resp.Data[1].OriginalMessage != nil {
		t.Errorf("text body = %+v", resp.Data[1])
	}
}

func TestRedriveDeadLetters(t *testing.T) {
	dl := &fakeDeadLetters{processed: 4}
	rec := do(t, newTestHandler(Config{DeadLetters: dl}), http.MethodPost, "/api/v1/dlq/redrive", "")
	resp := decode[struct {
		Data dlq.Result `json:"data"`
	}](t, rec)
	if resp.Data.Processed != 4 {
		t.Errorf("processed = %d, want 4", resp.Data.Processed)
	}

	dl.err = breaker.ErrCircuitOpen
	rec = do(t, newTestHandler(Config{DeadLetters: dl}), http.MethodPost, "/api/v1/dlq/redrive", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("breaker open code = %d, want 503", rec.Code)
	}
}

// --- Outbox Tests ---

func TestOutboxEndpoints(t *testing.T) {
	ob := &fakeOutbox{
		stats:  outbox.Stats{Pending: 3, Failed: 1},
		events: []*domain.OutboxEvent{{ID: uuid.New(), EventType: domain.EventAppointmentConfirmed, Status: domain.OutboxStatusFailed}},
	}
	h := newTestHandler(Config{Outbox: ob})

	rec := do(t, h, http.MethodGet, "/api/v1/outbox/stats", "")
	stats := decode[struct {
		Data outbox.Stats `json:"data"`
	}](t, rec)
	if stats.Data.Pending != 3 || stats.Data.Failed != 1 {
		t.Errorf("stats = %+v", stats.Data)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/outbox/events?status=FAILED&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events code = %d", rec.Code)
	}
	if ob.lastStatus != domain.OutboxStatusFailed || ob.lastLimit != 10 {
		t.Errorf("filter = %s/%d", ob.lastStatus, ob.lastLimit)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/outbox/events?status=LOST", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status code = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/outbox/redrive?limit=100000", "")
	redrive := decode[struct {
		Data RedriveResponse `json:"data"`
	}](t, rec)
	if redrive.Data.Requeued != 2 {
		t.Errorf("requeued = %d", redrive.Data.Requeued)
	}
	if ob.lastLimit != maxListLimit {
		t.Errorf("limit = %d, want capped %d", ob.lastLimit, maxListLimit)
	}
}

// --- Breaker Tests ---

func TestBreakerEndpoints(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{})
	reg.Get("patients")
	reg.Get("appointments")
	h := newTestHandler(Config{Breakers: reg})

	rec := do(t, h, http.MethodPost, "/api/v1/breakers/patients/open", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("open code = %d", rec.Code)
	}
	if reg.Get("patients").State() != breaker.StateOpen {
		t.Error("patients should be OPEN")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/breakers", "")
	list := decode[struct {
		Data []BreakerResponse `json:"data"`
	}](t, rec)
	if len(list.Data) != 2 || list.Data[0].Name != "appointments" {
		t.Fatalf("breakers = %+v", list.Data)
	}
	if list.Data[1].State != breaker.StateOpen {
		t.Errorf("patients state = %s", list.Data[1].State)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/breakers/patients/close", "")
	if rec.Code != http.StatusOK || reg.Get("patients").State() != breaker.StateClosed {
		t.Errorf("close: code=%d state=%s", rec.Code, reg.Get("patients").State())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/breakers/unknown/open", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown code = %d, want 404", rec.Code)
	}
}

// --- Router Tests ---

func TestRouter_NotFoundAndMethod(t *testing.T) {
	h := newTestHandler(Config{})

	if rec := do(t, h, http.MethodGet, "/api/v1/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("not found code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/bookings", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("method code = %d", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}
