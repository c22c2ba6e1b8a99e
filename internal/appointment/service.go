package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/apperr"
	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/metrics"
	"github.com/hackgods/clinic-queue/internal/notify"
	"github.com/hackgods/clinic-queue/internal/queue"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
	"github.com/hackgods/clinic-queue/internal/slots"
)

// AffiliationSource answers whether a doctor may see patients at a facility.
type AffiliationSource interface {
	GetApproved(ctx context.Context, doctorID, facilityID uuid.UUID) (*affiliation.Affiliation, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

type Deps struct {
	Repo         Repository
	Affiliations AffiliationSource
	Slots        *slots.Generator
	Locker       redisclient.Locker
	Projector    *queue.Projector
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Logger       *zap.Logger

	// TokenRetry is the backoff before the single token issuance retry.
	TokenRetry time.Duration
}

type Service struct {
	repo         Repository
	affiliations AffiliationSource
	slots        *slots.Generator
	locker       redisclient.Locker
	projector    *queue.Projector
	notifier     Notifier
	metrics      *metrics.Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
	tokenRetry   time.Duration
	now          func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Slots == nil {
		d.Slots = slots.NewGenerator(time.UTC)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Service{
		repo:         d.Repo,
		affiliations: d.Affiliations,
		slots:        d.Slots,
		locker:       d.Locker,
		projector:    d.Projector,
		notifier:     d.Notifier,
		metrics:      d.Metrics,
		logger:       d.Logger,
		tracer:       otel.Tracer("clinic-queue/appointment"),
		tokenRetry:   d.TokenRetry,
		now:          time.Now,
	}
}

type BookRequest struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	FacilityID    uuid.UUID
	ScheduledTime time.Time
	Reason        string
	Type          Type
}

// Book creates a BOOKED appointment. The no-double-booking check is the
// insert itself; there is no read-before-write.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req BookRequest) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.book", trace.WithAttributes(
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.String("facility_id", req.FacilityID.String()),
	))
	defer func() { finishSpan(span, err) }()

	if actor.Role == auth.RolePatient {
		if req.PatientID == uuid.Nil {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return nil, fmt.Errorf("patients may only book for themselves: %w", apperr.ErrForbidden)
		}
	} else if !actor.WorksAt(req.FacilityID) {
		return nil, fmt.Errorf("only the patient or facility staff may book: %w", apperr.ErrForbidden)
	}

	if req.Type == "" {
		req.Type = TypeConsultation
	}
	if !req.Type.Valid() || req.Type.WalkIn() {
		return nil, fmt.Errorf("appointment type %q cannot be booked: %w", req.Type, apperr.ErrValidation)
	}
	if req.ScheduledTime.IsZero() || !req.ScheduledTime.After(s.now()) {
		return nil, fmt.Errorf("scheduled time must be in the future: %w", apperr.ErrValidation)
	}

	if err := s.requireAffiliation(ctx, req.DoctorID, req.FacilityID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	appt, err := s.repo.InsertAppointment(ctx, &Appointment{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		FacilityID:    req.FacilityID,
		ScheduledTime: req.ScheduledTime.UTC(),
		Type:          req.Type,
		Status:        StatusBooked,
		Reason:        optional(req.Reason),
		PaymentStatus: PaymentPending,
		Vitals:        Vitals{},
	})
	if err != nil {
		if errors.Is(err, apperr.ErrSlotTaken) {
			s.metrics.BookingConflicts.Inc()
		}
		return nil, err
	}

	s.metrics.BookingsTotal.Inc()
	s.logEvent(ctx, appt.ID, actor, EventBooked, map[string]any{
		"scheduled_time": appt.ScheduledTime,
		"type":           appt.Type,
	})
	s.notify(ctx, notify.EventBooked, appt, "")

	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.Time("scheduled_time", appt.ScheduledTime),
	)
	return appt, nil
}

// Cancel moves a non-terminal appointment to CANCELLED. Cancelling twice
// returns the already cancelled appointment.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsAsPatient(actor, appt) && !actor.IsDoctor(appt.DoctorID) && !actor.WorksAt(appt.FacilityID) {
		return nil, fmt.Errorf("not allowed to cancel this appointment: %w", apperr.ErrForbidden)
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if appt.Status.Terminal() {
		return nil, &TransitionError{AppointmentID: id, Current: appt.Status, Attempted: "cancel"}
	}

	now := s.now().UTC()
	appt.Status = StatusCancelled
	appt.CancelledBy = ptr(actor.ID)
	appt.CancelReason = optional(reason)
	appt.CancelledAt = &now

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if errors.Is(err, ErrStaleAppointment) {
		// losing the race to another cancel still leaves the visit cancelled
		cur, rerr := s.repo.GetAppointmentByID(ctx, id)
		if rerr == nil && cur.Status == StatusCancelled {
			return cur, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.CancellationsTotal.Inc()
	s.logEvent(ctx, id, actor, EventCancelled, map[string]any{"reason": reason})
	s.notify(ctx, notify.EventCancelled, updated, reason)

	return updated, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsAsPatient(actor, appt) && !actor.IsDoctor(appt.DoctorID) && !actor.WorksAt(appt.FacilityID) {
		return nil, fmt.Errorf("not allowed to view this appointment: %w", apperr.ErrForbidden)
	}
	return appt, nil
}

// AvailableSlots lists the bookable slots of the doctor at the facility on
// date (YYYY-MM-DD in the reference zone).
func (s *Service) AvailableSlots(ctx context.Context, doctorID, facilityID uuid.UUID, date string) ([]slots.Slot, error) {
	day, err := s.slots.ParseDate(date)
	if err != nil {
		return nil, err
	}

	aff, err := s.affiliations.GetApproved(ctx, doctorID, facilityID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrNotAffiliated
		}
		return nil, err
	}

	from, to := s.slots.DayWindow(day)
	taken, err := s.repo.ListTakenTimes(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}

	return s.slots.Generate(aff, day, taken)
}

// UpdateVitals merges fields into the stored vitals.
func (s *Service) UpdateVitals(ctx context.Context, actor auth.Actor, id uuid.UUID, fields Vitals) (*Appointment, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no vitals given: %w", apperr.ErrValidation)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.WorksAt(appt.FacilityID) && !actor.IsDoctor(appt.DoctorID) {
		return nil, fmt.Errorf("not allowed to record vitals: %w", apperr.ErrForbidden)
	}
	if appt.Status.Terminal() {
		return nil, &TransitionError{AppointmentID: id, Current: appt.Status, Attempted: "update vitals of"}
	}

	merged := make(Vitals, len(appt.Vitals)+len(fields))
	maps.Copy(merged, appt.Vitals)
	maps.Copy(merged, fields)
	appt.Vitals = merged

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, actor, EventVitalsUpdated, map[string]any{"fields": fields})
	return updated, nil
}

// UpdatePayment moves PENDING -> PAID -> REFUNDED. Setting the current
// status again is a no-op.
func (s *Service) UpdatePayment(ctx context.Context, actor auth.Actor, id uuid.UUID, status PaymentStatus) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown payment status %q: %w", status, apperr.ErrValidation)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.WorksAt(appt.FacilityID) {
		return nil, fmt.Errorf("only facility staff may update payments: %w", apperr.ErrForbidden)
	}

	if appt.PaymentStatus == status {
		return appt, nil
	}
	if !appt.PaymentStatus.canMoveTo(status) {
		return nil, fmt.Errorf("payment cannot move from %s to %s: %w", appt.PaymentStatus, status, apperr.ErrInvalidTransition)
	}

	from := appt.PaymentStatus
	appt.PaymentStatus = status

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, actor, EventPaymentUpdated, map[string]any{"from": from, "to": status})
	return updated, nil
}

func (s *Service) requireAffiliation(ctx context.Context, doctorID, facilityID uuid.UUID) error {
	_, err := s.affiliations.GetApproved(ctx, doctorID, facilityID)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.ErrNotAffiliated
	}
	return fmt.Errorf("load affiliation: %w", err)
}

func ownsAsPatient(actor auth.Actor, appt *Appointment) bool {
	return actor.Role == auth.RolePatient && actor.ID == appt.PatientID
}

func (s *Service) notify(ctx context.Context, typ notify.EventType, appt *Appointment, reason string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:          typ,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		FacilityID:    appt.FacilityID,
		ScheduledTime: appt.ScheduledTime,
		Reason:        reason,
	})
}

// logEvent appends to the audit log. A failed append never fails the
// transition that produced it.
func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, actor auth.Actor, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}
	if actor.ID != uuid.Nil {
		ev.ActorID = ptr(actor.ID)
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
