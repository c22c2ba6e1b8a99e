package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/hackgods/clinic-queue/internal/metrics"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaDispatcherKeysByAppointment(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.New(prometheus.NewRegistry())
	d := newKafkaDispatcher(w, "clinic.notifications", nil, m)

	ev := Event{ID: uuid.New(), Type: EventBooked, AppointmentID: uuid.New()}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != ev.AppointmentID.String() || msg.Topic != "clinic.notifications" {
		t.Fatalf("unexpected message routing: key=%s topic=%s", msg.Key, msg.Topic)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[1].Value) != string(EventBooked) {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}
	if got := testutil.ToFloat64(m.NotificationsSent); got != 1 {
		t.Fatalf("sent counter = %v", got)
	}
}

func TestKafkaDispatcherBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	m := metrics.New(prometheus.NewRegistry())
	d := newKafkaDispatcher(w, "t", nil, m)

	ev := Event{Type: EventCancelled, AppointmentID: uuid.New()}
	for i := 0; i < 5; i++ {
		if err := d.Dispatch(context.Background(), ev); err == nil {
			t.Fatal("expected failure")
		}
	}

	err := d.Dispatch(context.Background(), ev)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := testutil.ToFloat64(m.NotificationsFailed); got != 6 {
		t.Fatalf("failed counter = %v", got)
	}
}

type recording struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recording) Dispatch(ctx context.Context, ev Event) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestAsyncSurvivesCancelledRequest(t *testing.T) {
	rec := &recording{}
	a := NewAsync(rec, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Notify(ctx, Event{Type: EventBooked, AppointmentID: uuid.New()})
	a.Wait()

	if len(rec.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.events))
	}
	if rec.events[0].ID == uuid.Nil || rec.events[0].OccurredAt.IsZero() {
		t.Fatalf("event not stamped: %+v", rec.events[0])
	}
}

func TestAsyncSwallowsErrors(t *testing.T) {
	rec := &recording{err: errors.New("smtp down")}
	a := NewAsync(rec, time.Second, nil)
	a.Notify(context.Background(), Event{Type: EventCancelled})
	a.Wait()
}
