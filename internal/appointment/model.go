package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/apperr"
)

type Status string

const (
	StatusBooked         Status = "BOOKED"
	StatusCheckedIn      Status = "CHECKED_IN"
	StatusInConsultation Status = "IN_CONSULTATION"
	StatusCompleted      Status = "COMPLETED"
	StatusSkipped        Status = "SKIPPED"
	StatusCancelled      Status = "CANCELLED"
)

// Terminal states are final; nothing leaves them.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

type Type string

const (
	TypeConsultation Type = "CONSULTATION"
	TypeWalkIn       Type = "WALK_IN"
	TypeEmergency    Type = "EMERGENCY"
	TypeFollowUp     Type = "FOLLOW_UP"
)

func (t Type) Valid() bool {
	switch t {
	case TypeConsultation, TypeWalkIn, TypeEmergency, TypeFollowUp:
		return true
	}
	return false
}

// WalkIn types carry an arrival instant instead of a booked slot.
func (t Type) WalkIn() bool {
	return t == TypeWalkIn || t == TypeEmergency
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// canMoveTo allows PENDING -> PAID -> REFUNDED only.
func (p PaymentStatus) canMoveTo(to PaymentStatus) bool {
	switch p {
	case PaymentPending:
		return to == PaymentPaid
	case PaymentPaid:
		return to == PaymentRefunded
	}
	return false
}

type Action string

const (
	ActionStartConsultation Action = "START_CONSULTATION"
	ActionComplete          Action = "COMPLETE"
	ActionSkip              Action = "SKIP"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStartConsultation, ActionComplete, ActionSkip:
		return a, nil
	}
	return "", fmt.Errorf("unknown queue action %q: %w", s, apperr.ErrInvalidAction)
}

// next is the doctor's transition table.
func (a Action) next(from Status) (Status, bool) {
	switch a {
	case ActionStartConsultation:
		return StatusInConsultation, from == StatusCheckedIn
	case ActionComplete:
		return StatusCompleted, from == StatusInConsultation
	case ActionSkip:
		return StatusSkipped, !from.Terminal()
	}
	return "", false
}

// TransitionError reports a state machine violation with the status the
// appointment was actually in.
type TransitionError struct {
	AppointmentID uuid.UUID
	Current       Status
	Attempted     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s appointment %s: status is %s", e.Attempted, e.AppointmentID, e.Current)
}

func (e *TransitionError) Unwrap() error {
	return apperr.ErrInvalidTransition
}

// Vitals holds free-form clinical fields. Updates merge key by key.
type Vitals map[string]any

type Appointment struct {
	ID                    uuid.UUID
	PatientID             uuid.UUID
	DoctorID              uuid.UUID
	FacilityID            uuid.UUID
	ScheduledTime         time.Time
	Type                  Type
	Status                Status
	Reason                *string
	Notes                 *string
	TokenNumber           *int
	TokenDate             *time.Time
	CheckInTime           *time.Time
	ConsultationStartTime *time.Time
	ConsultationEndTime   *time.Time
	PaymentStatus         PaymentStatus
	Vitals                Vitals
	CancelledBy           *uuid.UUID
	CancelReason          *string
	CancelledAt           *time.Time
	SkippedBy             *uuid.UUID
	SkipReason            *string
	SkippedAt             *time.Time
	Version               int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (a *Appointment) Token() int {
	if a.TokenNumber == nil {
		return 0
	}
	return *a.TokenNumber
}

type Patient struct {
	ID          uuid.UUID
	Name        string
	Phone       *string
	Email       *string
	Gender      *string
	DateOfBirth *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PatientDemographics is what the front desk collects from a walk-in.
type PatientDemographics struct {
	Name        string
	Phone       string
	Email       string
	Gender      string
	DateOfBirth *time.Time
}

const (
	EventBooked              = "BOOKED"
	EventCancelled           = "CANCELLED"
	EventCheckedIn           = "CHECKED_IN"
	EventWalkInRegistered    = "WALK_IN_REGISTERED"
	EventConsultationStarted = "CONSULTATION_STARTED"
	EventCompleted           = "COMPLETED"
	EventSkipped             = "SKIPPED"
	EventVitalsUpdated       = "VITALS_UPDATED"
	EventPaymentUpdated      = "PAYMENT_UPDATED"
)

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

func ptr[T any](v T) *T {
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
