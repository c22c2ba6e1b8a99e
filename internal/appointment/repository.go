package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/apperr"
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", apperr.ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", apperr.ErrNotFound)

	// ErrStaleAppointment is returned when the stored version moved on.
	ErrStaleAppointment = fmt.Errorf("appointment was modified concurrently: %w", apperr.ErrVersionConflict)

	// ErrTokenTaken means another check-in issued the same token first.
	ErrTokenTaken = errors.New("token already issued for this doctor and day")

	ErrConsultationInProgress = fmt.Errorf("doctor already has a patient in consultation: %w", apperr.ErrInvalidTransition)
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// InsertAppointment is the atomic check-and-insert for bookings. It fails
	// with apperr.ErrSlotTaken when the doctor already holds a live booked
	// appointment at that instant and with ErrTokenTaken on a token collision.
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateAppointment writes a only if the stored version still equals
	// a.Version, else ErrStaleAppointment. The returned row carries the
	// bumped version.
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Token issuance
	MaxToken(ctx context.Context, doctorID, facilityID uuid.UUID, tokenDate time.Time) (int, error)

	// ListQueue returns CHECKED_IN and IN_CONSULTATION appointments holding a
	// token for the day.
	ListQueue(ctx context.Context, doctorID, facilityID uuid.UUID, tokenDate time.Time) ([]Appointment, error)

	// ListTakenTimes returns scheduled starts of the doctor's live bookings in [from, to).
	ListTakenTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// FindOrCreatePatient matches on phone when one is given.
	FindOrCreatePatient(ctx context.Context, d PatientDemographics) (*Patient, bool, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
