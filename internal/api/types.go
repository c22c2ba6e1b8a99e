package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/queue"
)

type BookAppointmentRequest struct {
	PatientID     string    `json:"patient_id,omitempty"`
	DoctorID      string    `json:"doctor_id"`
	FacilityID    string    `json:"facility_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason,omitempty"`
	Type          string    `json:"type,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type QueueActionRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type PaymentRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type PatientRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Gender      string `json:"gender,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"` // YYYY-MM-DD
}

type WalkInRequest struct {
	Patient     PatientRequest `json:"patient"`
	DoctorID    string         `json:"doctor_id"`
	FacilityID  string         `json:"facility_id"`
	IsEmergency bool           `json:"is_emergency"`
	Reason      string         `json:"reason,omitempty"`
}

type QueueStatusRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type AffiliationRequest struct {
	DoctorID     string `json:"doctor_id"`
	FacilityID   string `json:"facility_id"`
	SlotDuration int    `json:"slot_duration,omitempty"`
}

type RespondRequest struct {
	Approve bool `json:"approve"`
}

type ScheduleRequest struct {
	WeeklySchedule *[]affiliation.WeeklyEntry  `json:"weekly_schedule,omitempty"`
	DateOverrides  *[]affiliation.DateOverride `json:"date_overrides,omitempty"`
	SlotDuration   *int                        `json:"slot_duration,omitempty"`
}

type AppointmentResponse struct {
	ID                    uuid.UUID          `json:"appointment_id"`
	PatientID             uuid.UUID          `json:"patient_id"`
	DoctorID              uuid.UUID          `json:"doctor_id"`
	FacilityID            uuid.UUID          `json:"facility_id"`
	ScheduledTime         time.Time          `json:"scheduled_time"`
	Type                  string             `json:"type"`
	Status                string             `json:"status"`
	Reason                *string            `json:"reason,omitempty"`
	Notes                 *string            `json:"notes,omitempty"`
	TokenNumber           *int               `json:"token_number,omitempty"`
	CheckInTime           *time.Time         `json:"check_in_time,omitempty"`
	ConsultationStartTime *time.Time         `json:"consultation_start_time,omitempty"`
	ConsultationEndTime   *time.Time         `json:"consultation_end_time,omitempty"`
	PaymentStatus         string             `json:"payment_status"`
	Vitals                appointment.Vitals `json:"vitals,omitempty"`
	CancelledBy           *uuid.UUID         `json:"cancelled_by,omitempty"`
	CancelReason          *string            `json:"cancel_reason,omitempty"`
	SkippedBy             *uuid.UUID         `json:"skipped_by,omitempty"`
	SkipReason            *string            `json:"skip_reason,omitempty"`
	Version               int                `json:"version"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                    a.ID,
		PatientID:             a.PatientID,
		DoctorID:              a.DoctorID,
		FacilityID:            a.FacilityID,
		ScheduledTime:         a.ScheduledTime,
		Type:                  string(a.Type),
		Status:                string(a.Status),
		Reason:                a.Reason,
		Notes:                 a.Notes,
		TokenNumber:           a.TokenNumber,
		CheckInTime:           a.CheckInTime,
		ConsultationStartTime: a.ConsultationStartTime,
		ConsultationEndTime:   a.ConsultationEndTime,
		PaymentStatus:         string(a.PaymentStatus),
		Vitals:                a.Vitals,
		CancelledBy:           a.CancelledBy,
		CancelReason:          a.CancelReason,
		SkippedBy:             a.SkippedBy,
		SkipReason:            a.SkipReason,
		Version:               a.Version,
		UpdatedAt:             a.UpdatedAt,
	}
}

type CheckInResponse struct {
	AppointmentID uuid.UUID  `json:"appointment_id"`
	TokenNumber   int        `json:"token_number"`
	CheckInTime   *time.Time `json:"check_in_time,omitempty"`
}

type WalkInResponse struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	TokenNumber    int       `json:"token_number"`
	Type           string    `json:"type"`
	PatientCreated bool      `json:"patient_created"`
}

type SlotResponse struct {
	Time        time.Time `json:"time"`
	DisplayTime string    `json:"display_time"`
}

type SlotsResponse struct {
	Date           string         `json:"date"`
	AvailableSlots []SlotResponse `json:"available_slots"`
}

type QueueResponse struct {
	Projection queue.Projection      `json:"projection"`
	Entries    []AppointmentResponse `json:"entries,omitempty"`
	Next       *AppointmentResponse  `json:"next,omitempty"`
}

func toQueueResponse(v *appointment.QueueView) QueueResponse {
	resp := QueueResponse{Projection: v.Projection}
	for i := range v.Entries {
		resp.Entries = append(resp.Entries, toAppointmentResponse(&v.Entries[i]))
	}
	if v.Next != nil {
		next := toAppointmentResponse(v.Next)
		resp.Next = &next
	}
	return resp
}

type AffiliationResponse struct {
	ID             uuid.UUID                  `json:"affiliation_id"`
	DoctorID       uuid.UUID                  `json:"doctor_id"`
	FacilityID     uuid.UUID                  `json:"facility_id"`
	Status         string                     `json:"status"`
	RequestedBy    string                     `json:"requested_by"`
	WeeklySchedule []affiliation.WeeklyEntry  `json:"weekly_schedule"`
	DateOverrides  []affiliation.DateOverride `json:"date_overrides"`
	SlotDuration   int                        `json:"slot_duration"`
	UpdatedBy      *uuid.UUID                 `json:"updated_by,omitempty"`
	UpdatedRole    *string                    `json:"updated_role,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

func toAffiliationResponse(a *affiliation.Affiliation) AffiliationResponse {
	resp := AffiliationResponse{
		ID:             a.ID,
		DoctorID:       a.DoctorID,
		FacilityID:     a.FacilityID,
		Status:         string(a.Status),
		RequestedBy:    string(a.RequestedBy),
		WeeklySchedule: a.WeeklySchedule,
		DateOverrides:  a.DateOverrides,
		SlotDuration:   a.SlotDuration,
		UpdatedBy:      a.UpdatedBy,
		UpdatedRole:    a.UpdatedRole,
		UpdatedAt:      a.UpdatedAt,
	}
	if resp.WeeklySchedule == nil {
		resp.WeeklySchedule = []affiliation.WeeklyEntry{}
	}
	if resp.DateOverrides == nil {
		resp.DateOverrides = []affiliation.DateOverride{}
	}
	return resp
}
