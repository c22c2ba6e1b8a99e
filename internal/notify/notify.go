// Package notify hands booking and cancellation events to the patient
// notification pipeline. Delivery is fire-and-forget: a failed notification
// never rolls back the ledger write that produced it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventBooked    EventType = "appointment.booked"
	EventCancelled EventType = "appointment.cancelled"
)

type Event struct {
	ID            uuid.UUID `json:"event_id"`
	Type          EventType `json:"event_type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	FacilityID    uuid.UUID `json:"facility_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Dispatch(context.Context, Event) error { return nil }

// Async runs a Dispatcher off the request path.
type Async struct {
	next    Dispatcher
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Dispatcher, timeout time.Duration, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{next: next, logger: logger, timeout: timeout}
}

// Notify returns immediately. The dispatch keeps running after the request
// context is cancelled and is bounded by the configured timeout.
func (a *Async) Notify(ctx context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.next.Dispatch(ctx, ev); err != nil {
			a.logger.Warn("notification dispatch failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("appointment_id", ev.AppointmentID.String()),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
