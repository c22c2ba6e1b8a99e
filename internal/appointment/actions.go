package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/apperr"
	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/queue"
)

type ActionRequest struct {
	Action string
	Notes  string
	Reason string
}

// QueueAction applies a doctor's START_CONSULTATION, COMPLETE or SKIP. A
// request that violates the transition table changes nothing.
func (s *Service) QueueAction(ctx context.Context, actor auth.Actor, id uuid.UUID, req ActionRequest) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.queue_action", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("action", req.Action),
	))
	defer func() {
		label, outcome := req.Action, "ok"
		if _, perr := ParseAction(label); perr != nil {
			label = "unknown"
		}
		if err != nil {
			outcome = "rejected"
		}
		s.metrics.QueueActions.WithLabelValues(label, outcome).Inc()
		finishSpan(span, err)
	}()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsDoctor(appt.DoctorID) {
		return nil, fmt.Errorf("only the appointment's doctor may act on it: %w", apperr.ErrForbidden)
	}

	action, err := ParseAction(req.Action)
	if err != nil {
		return nil, err
	}

	next, ok := action.next(appt.Status)
	if !ok {
		return nil, &TransitionError{AppointmentID: id, Current: appt.Status, Attempted: string(action)}
	}

	now := s.now().UTC()
	eventType := ""
	payload := map[string]any{"from": appt.Status}

	switch action {
	case ActionStartConsultation:
		appt.ConsultationStartTime = &now
		eventType = EventConsultationStarted
	case ActionComplete:
		appt.ConsultationEndTime = &now
		if req.Notes != "" {
			appt.Notes = &req.Notes
		}
		eventType = EventCompleted
	case ActionSkip:
		appt.SkippedBy = ptr(actor.ID)
		appt.SkippedAt = &now
		appt.SkipReason = optional(req.Reason)
		payload["reason"] = req.Reason
		eventType = EventSkipped
	}
	appt.Status = next

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	if action == ActionStartConsultation {
		s.serveToken(ctx, updated.FacilityID, updated.DoctorID, updated.Token())
	} else {
		s.touchQueue(ctx, updated.FacilityID, updated.DoctorID)
	}
	s.logEvent(ctx, id, actor, eventType, payload)

	s.logger.Info("queue action applied",
		zap.String("appointment_id", id.String()),
		zap.String("action", string(action)),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// SetQueueStatus changes the doctor's availability label for a facility.
func (s *Service) SetQueueStatus(ctx context.Context, actor auth.Actor, facilityID, doctorID uuid.UUID, status queue.DoctorStatus, message string) (queue.Projection, error) {
	if !actor.IsDoctor(doctorID) && !actor.WorksAt(facilityID) {
		return queue.Projection{}, fmt.Errorf("only the doctor or facility staff may set queue status: %w", apperr.ErrForbidden)
	}
	if err := s.requireAffiliation(ctx, doctorID, facilityID); err != nil {
		return queue.Projection{}, err
	}

	p, err := s.projector.SetStatus(ctx, queue.Key{FacilityID: facilityID, DoctorID: doctorID}, status, message)
	s.recordProjection("status", err)
	if err != nil {
		return queue.Projection{}, err
	}
	return p, nil
}

type QueueView struct {
	Projection queue.Projection
	// Entries and Next are only filled for the doctor and facility staff.
	Entries []Appointment
	Next    *Appointment
}

// Queue returns the live projection and, for the doctor and staff, today's
// queue in display order.
func (s *Service) Queue(ctx context.Context, actor auth.Actor, facilityID, doctorID uuid.UUID) (*QueueView, error) {
	p, err := s.projector.Get(ctx, queue.Key{FacilityID: facilityID, DoctorID: doctorID})
	if err != nil {
		return nil, err
	}
	view := &QueueView{Projection: p}

	if !actor.IsDoctor(doctorID) && !actor.WorksAt(facilityID) {
		return view, nil
	}

	dayStart, _ := s.slots.DayWindow(s.now())
	tokenDate := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), 0, 0, 0, 0, time.UTC)

	appts, err := s.repo.ListQueue(ctx, doctorID, facilityID, tokenDate)
	if err != nil {
		return nil, err
	}
	view.Entries, view.Next = OrderQueue(appts)
	return view, nil
}

func (s *Service) Subscribe(ctx context.Context, facilityID, doctorID uuid.UUID) (<-chan queue.Projection, error) {
	return s.projector.Subscribe(ctx, queue.Key{FacilityID: facilityID, DoctorID: doctorID})
}

// OrderQueue puts the patient in consultation first, then checked-in
// patients by ascending token. next is the lowest token still CHECKED_IN;
// the patient in consultation is never displaced.
func OrderQueue(appts []Appointment) (ordered []Appointment, next *Appointment) {
	inConsultation := lo.Filter(appts, func(a Appointment, _ int) bool {
		return a.Status == StatusInConsultation
	})
	waiting := lo.Filter(appts, func(a Appointment, _ int) bool {
		return a.Status == StatusCheckedIn
	})
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].Token() < waiting[j].Token()
	})

	ordered = append(inConsultation, waiting...)
	if len(waiting) > 0 {
		next = &waiting[0]
	}
	return ordered, next
}
