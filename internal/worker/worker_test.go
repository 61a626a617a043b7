package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/ClinicBooking/internal/booking"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/domain"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

type fakeProcessor struct {
	mu       sync.Mutex
	received []booking.Incoming
	outcome  booking.Outcome
	err      error
}

func (p *fakeProcessor) Process(_ context.Context, in booking.Incoming) (booking.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, in)
	return p.outcome, p.err
}

type failedCall struct {
	msg     dlq.Message
	cause   error
	attempt int
	queue   string
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	calls   []failedCall
	err     error
	pumped  int
	pumpErr error
}

func (f *fakeDeadLetters) HandleFailedMessage(_ context.Context, msg dlq.Message, cause error, attempt int, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, failedCall{msg: msg, cause: cause, attempt: attempt, queue: queue})
	return f.err
}

func (f *fakeDeadLetters) PumpRetries(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pumped++
	return 0, f.pumpErr
}

func newTestWorker(p Processor, d DeadLetters) *Worker {
	return New(Config{
		Processor:   p,
		DeadLetters: d,
		Logger:      telemetry.Discard(),
	})
}

func delivery(raw amqp.Delivery) *mq.Delivery {
	return mq.NewDelivery(raw)
}

// --- handleBooking Tests ---

func TestHandleBooking_Success(t *testing.T) {
	proc := &fakeProcessor{outcome: booking.OutcomeConfirmed}
	dl := &fakeDeadLetters{}
	w := newTestWorker(proc, dl)

	env, err := mq.NewEnvelope(mq.MessageTypeBookAppointment, "test", map[string]string{"psychologist_id": "p1"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	body, _ := json.Marshal(env)

	err = w.handleBooking(context.Background(), delivery(amqp.Delivery{MessageId: "msg-1", Body: body}))
	if err != nil {
		t.Fatalf("handleBooking() error = %v", err)
	}

	if len(proc.received) != 1 {
		t.Fatalf("processed = %d, want 1", len(proc.received))
	}
	in := proc.received[0]
	if in.ID != "msg-1" {
		t.Errorf("ID = %q, want msg-1", in.ID)
	}
	if in.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", in.Attempt)
	}
	if in.Queue != string(mq.QueueBooking) {
		t.Errorf("Queue = %q, want %q", in.Queue, mq.QueueBooking)
	}
	if string(in.Payload) != `{"psychologist_id":"p1"}` {
		t.Errorf("Payload = %s, want envelope data", in.Payload)
	}
	if len(dl.calls) != 0 {
		t.Errorf("dlq calls = %d, want 0", len(dl.calls))
	}
}

func TestHandleBooking_FailureHandedToDLQ(t *testing.T) {
	cause := errors.New("database unavailable")
	proc := &fakeProcessor{outcome: booking.OutcomeFailed, err: cause}
	dl := &fakeDeadLetters{}
	w := newTestWorker(proc, dl)

	raw := amqp.Delivery{
		MessageId: "msg-2",
		Body:      []byte(`{"psychologist_id":"p1"}`),
		Headers:   amqp.Table{"x-delivery-count": int64(2)},
	}
	if err := w.handleBooking(context.Background(), delivery(raw)); err != nil {
		t.Fatalf("handleBooking() error = %v, want ack", err)
	}

	if len(dl.calls) != 1 {
		t.Fatalf("dlq calls = %d, want 1", len(dl.calls))
	}
	call := dl.calls[0]
	if !errors.Is(call.cause, cause) {
		t.Errorf("cause = %v, want %v", call.cause, cause)
	}
	if call.attempt != 3 {
		t.Errorf("attempt = %d, want 3", call.attempt)
	}
	if call.msg.ID != "msg-2" || string(call.msg.Body) != string(raw.Body) {
		t.Errorf("message = %+v, want original", call.msg)
	}
}

func TestHandleBooking_DLQFailureNacks(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("boom")}
	dl := &fakeDeadLetters{err: errors.New("dlq store down")}
	w := newTestWorker(proc, dl)

	err := w.handleBooking(context.Background(), delivery(amqp.Delivery{MessageId: "msg-3", Body: []byte("{}")}))
	if err == nil {
		t.Fatal("handleBooking() should fail when dlq rejects the message")
	}
	if !errors.Is(err, dl.err) {
		t.Errorf("error = %v, want dlq error", err)
	}
}

func TestHandleBooking_CustomQueue(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("boom")}
	dl := &fakeDeadLetters{}
	w := New(Config{
		Processor:   proc,
		DeadLetters: dl,
		Topology:    mq.Topology{BookingQueue: "appointments.booking.eu"},
		Logger:      telemetry.Discard(),
	})

	_ = w.handleBooking(context.Background(), delivery(amqp.Delivery{MessageId: "m", Body: []byte("{}")}))

	if dl.calls[0].queue != "appointments.booking.eu" {
		t.Errorf("queue = %q, want appointments.booking.eu", dl.calls[0].queue)
	}
}

// --- handleDeadLettered Tests ---

func TestHandleDeadLettered_Permanent(t *testing.T) {
	dl := &fakeDeadLetters{}
	w := newTestWorker(&fakeProcessor{}, dl)

	raw := amqp.Delivery{
		MessageId: "msg-4",
		Body:      []byte("{}"),
		Headers:   amqp.Table{"x-delivery-count": int64(10)},
	}
	if err := w.handleDeadLettered(context.Background(), delivery(raw)); err != nil {
		t.Fatalf("handleDeadLettered() error = %v", err)
	}

	if len(dl.calls) != 1 {
		t.Fatalf("dlq calls = %d, want 1", len(dl.calls))
	}
	if !domain.IsPermanent(dl.calls[0].cause) || !errors.Is(dl.calls[0].cause, ErrDeliveryLimit) {
		t.Errorf("cause = %v, want permanent ErrDeliveryLimit", dl.calls[0].cause)
	}
}

// --- Polling Tests ---

func TestPoll_PumpsRetries(t *testing.T) {
	dl := &fakeDeadLetters{}
	w := newTestWorker(&fakeProcessor{}, dl)

	w.poll(context.Background())
	dl.pumpErr = errors.New("redis down")
	w.poll(context.Background())

	if dl.pumped != 2 {
		t.Errorf("pumped = %d, want 2", dl.pumped)
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(Config{})
	if w.concurrency != defaultConcurrency {
		t.Errorf("concurrency = %d, want %d", w.concurrency, defaultConcurrency)
	}
	if w.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", w.pollInterval, defaultPollInterval)
	}
	if w.IsStopped() {
		t.Error("new worker should not be stopped")
	}
}
