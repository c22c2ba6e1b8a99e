package appointment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/apperr"
	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/queue"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
)

// CheckIn turns a BOOKED appointment into a queued visit with the next token
// of the day for its doctor and facility.
func (s *Service) CheckIn(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.check_in", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { finishSpan(span, err) }()

	started := time.Now()
	defer func() { s.metrics.CheckInDuration.Observe(time.Since(started).Seconds()) }()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.WorksAt(appt.FacilityID) {
		return nil, fmt.Errorf("only facility staff may check patients in: %w", apperr.ErrForbidden)
	}
	if appt.Status != StatusBooked {
		return nil, &TransitionError{AppointmentID: id, Current: appt.Status, Attempted: "check in"}
	}

	now := s.now().UTC()
	var checkedIn *Appointment

	err = s.issueToken(ctx, appt.DoctorID, appt.FacilityID, now, func(ctx context.Context, tokenDate time.Time, token int) error {
		// reload under the lock; another desk may have checked this visit in
		cur, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusBooked {
			return &TransitionError{AppointmentID: id, Current: cur.Status, Attempted: "check in"}
		}

		cur.Status = StatusCheckedIn
		cur.CheckInTime = &now
		cur.TokenNumber = ptr(token)
		cur.TokenDate = &tokenDate

		updated, err := s.repo.UpdateAppointment(ctx, cur)
		if err != nil {
			return err
		}
		checkedIn = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TokensIssued.Inc()
	s.touchQueue(ctx, checkedIn.FacilityID, checkedIn.DoctorID)
	s.logEvent(ctx, id, actor, EventCheckedIn, map[string]any{"token_number": checkedIn.Token()})

	s.logger.Info("patient checked in",
		zap.String("appointment_id", id.String()),
		zap.String("doctor_id", checkedIn.DoctorID.String()),
		zap.Int("token_number", checkedIn.Token()),
	)
	return checkedIn, nil
}

type WalkInRequest struct {
	Patient    PatientDemographics
	DoctorID   uuid.UUID
	FacilityID uuid.UUID
	Emergency  bool
	Reason     string
}

type WalkInResult struct {
	Appointment *Appointment
	Patient     *Patient
	// PatientCreated is false when the phone number matched an existing patient.
	PatientCreated bool
}

// RegisterWalkIn finds or creates the patient by phone and creates an
// appointment that is already CHECKED_IN with a token.
func (s *Service) RegisterWalkIn(ctx context.Context, actor auth.Actor, req WalkInRequest) (_ *WalkInResult, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.register_walk_in", trace.WithAttributes(
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.String("facility_id", req.FacilityID.String()),
		attribute.Bool("emergency", req.Emergency),
	))
	defer func() { finishSpan(span, err) }()

	if !actor.WorksAt(req.FacilityID) {
		return nil, fmt.Errorf("only facility staff may register walk-ins: %w", apperr.ErrForbidden)
	}
	if req.Patient.Name == "" {
		return nil, fmt.Errorf("patient name is required: %w", apperr.ErrValidation)
	}
	if err := s.requireAffiliation(ctx, req.DoctorID, req.FacilityID); err != nil {
		return nil, err
	}

	patient, created, err := s.repo.FindOrCreatePatient(ctx, req.Patient)
	if err != nil {
		return nil, err
	}

	typ := TypeWalkIn
	if req.Emergency {
		typ = TypeEmergency
	}

	now := s.now().UTC()
	appointmentID := uuid.New()
	var inserted *Appointment

	err = s.issueToken(ctx, req.DoctorID, req.FacilityID, now, func(ctx context.Context, tokenDate time.Time, token int) error {
		a, err := s.repo.InsertAppointment(ctx, &Appointment{
			ID:            appointmentID,
			PatientID:     patient.ID,
			DoctorID:      req.DoctorID,
			FacilityID:    req.FacilityID,
			ScheduledTime: now,
			Type:          typ,
			Status:        StatusCheckedIn,
			Reason:        optional(req.Reason),
			TokenNumber:   ptr(token),
			TokenDate:     &tokenDate,
			CheckInTime:   &now,
			PaymentStatus: PaymentPending,
			Vitals:        Vitals{},
		})
		if err != nil {
			return err
		}
		inserted = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TokensIssued.Inc()
	s.touchQueue(ctx, req.FacilityID, req.DoctorID)
	s.logEvent(ctx, appointmentID, actor, EventWalkInRegistered, map[string]any{
		"token_number":    inserted.Token(),
		"type":            typ,
		"patient_created": created,
	})

	s.logger.Info("walk-in registered",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("patient_id", patient.ID.String()),
		zap.Int("token_number", inserted.Token()),
		zap.Bool("emergency", req.Emergency),
	)
	return &WalkInResult{Appointment: inserted, Patient: patient, PatientCreated: created}, nil
}

// issueToken runs write with the next token of the day while holding the
// per doctor, facility and day lock. A lost lock, a token collision or a
// timeout is retried once after the backoff, then reported as a version
// conflict.
func (s *Service) issueToken(ctx context.Context, doctorID, facilityID uuid.UUID, at time.Time, write func(ctx context.Context, tokenDate time.Time, token int) error) error {
	dayStart, _ := s.slots.DayWindow(at)
	tokenDate := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), 0, 0, 0, 0, time.UTC)
	key := fmt.Sprintf("token:%s:%s:%s", doctorID, facilityID, tokenDate.Format(affiliation.DateLayout))

	attempt := func() error {
		return s.locker.WithLock(ctx, key, func(ctx context.Context) error {
			last, err := s.repo.MaxToken(ctx, doctorID, facilityID, tokenDate)
			if err != nil {
				return err
			}
			return write(ctx, tokenDate, last+1)
		})
	}

	err := attempt()
	if !retryableIssue(ctx, err) {
		return err
	}

	s.metrics.TokenRetries.Inc()
	s.logger.Debug("retrying token issuance", zap.String("key", key), zap.Error(err))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.tokenRetry):
	}

	err = attempt()
	if retryableIssue(ctx, err) {
		return fmt.Errorf("token issuance for %s: %v: %w", key, err, apperr.ErrVersionConflict)
	}
	return err
}

func retryableIssue(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redisclient.ErrLockNotAcquired) ||
		errors.Is(err, ErrTokenTaken) ||
		errors.Is(err, ErrStaleAppointment) {
		return true
	}
	// a timed out lock or database round trip is transient, the caller's
	// own expired deadline is not
	if ctx.Err() != nil {
		return false
	}
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) ||
		pgconn.Timeout(err)
}

// touchQueue and serveToken keep the projection in step. The ledger write
// already happened, so projection failures are logged and dropped.
func (s *Service) touchQueue(ctx context.Context, facilityID, doctorID uuid.UUID) {
	if s.projector == nil {
		return
	}
	_, err := s.projector.Touch(ctx, queue.Key{FacilityID: facilityID, DoctorID: doctorID})
	s.recordProjection("touch", err)
}

func (s *Service) serveToken(ctx context.Context, facilityID, doctorID uuid.UUID, token int) {
	if s.projector == nil {
		return
	}
	_, err := s.projector.ServeToken(ctx, queue.Key{FacilityID: facilityID, DoctorID: doctorID}, token)
	s.recordProjection("serve", err)
}

func (s *Service) recordProjection(kind string, err error) {
	if err != nil {
		s.metrics.ProjectionWrites.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("queue projection write failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	s.metrics.ProjectionWrites.WithLabelValues(kind, "ok").Inc()
}
