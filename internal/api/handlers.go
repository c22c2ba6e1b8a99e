package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/auth"
	"github.com/hackgods/clinic-queue/internal/queue"
	"github.com/hackgods/clinic-queue/internal/slots"
)

// Appointments is the booking, arrival and queue core as the HTTP layer sees it.
type Appointments interface {
	Book(ctx context.Context, actor auth.Actor, req appointment.BookRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)
	AvailableSlots(ctx context.Context, doctorID, facilityID uuid.UUID, date string) ([]slots.Slot, error)
	CheckIn(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)
	RegisterWalkIn(ctx context.Context, actor auth.Actor, req appointment.WalkInRequest) (*appointment.WalkInResult, error)
	QueueAction(ctx context.Context, actor auth.Actor, id uuid.UUID, req appointment.ActionRequest) (*appointment.Appointment, error)
	UpdateVitals(ctx context.Context, actor auth.Actor, id uuid.UUID, fields appointment.Vitals) (*appointment.Appointment, error)
	UpdatePayment(ctx context.Context, actor auth.Actor, id uuid.UUID, status appointment.PaymentStatus) (*appointment.Appointment, error)
	SetQueueStatus(ctx context.Context, actor auth.Actor, facilityID, doctorID uuid.UUID, status queue.DoctorStatus, message string) (queue.Projection, error)
	Queue(ctx context.Context, actor auth.Actor, facilityID, doctorID uuid.UUID) (*appointment.QueueView, error)
	Subscribe(ctx context.Context, facilityID, doctorID uuid.UUID) (<-chan queue.Projection, error)
}

type Affiliations interface {
	Request(ctx context.Context, actor auth.Actor, doctorID, facilityID uuid.UUID, slotDuration int) (*affiliation.Affiliation, error)
	Respond(ctx context.Context, actor auth.Actor, id uuid.UUID, approve bool) (*affiliation.Affiliation, error)
	Revoke(ctx context.Context, actor auth.Actor, id uuid.UUID) (*affiliation.Affiliation, error)
	UpdateSchedule(ctx context.Context, actor auth.Actor, id uuid.UUID, upd affiliation.ScheduleUpdate) (*affiliation.Affiliation, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*affiliation.Affiliation, error)
}

const maxBodyBytes = 1 << 20

type Handlers struct {
	appts        Appointments
	affiliations Affiliations
	logger       *zap.Logger
	loc          *time.Location
	heartbeat    time.Duration
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, value, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return parseUUID(w, chi.URLParam(r, "id"), "id")
}

func queuePath(w http.ResponseWriter, r *http.Request) (facilityID, doctorID uuid.UUID, ok bool) {
	if facilityID, ok = parseUUID(w, chi.URLParam(r, "facility"), "facility_id"); !ok {
		return
	}
	doctorID, ok = parseUUID(w, chi.URLParam(r, "doctor"), "doctor_id")
	return
}

// actor is always present behind Authenticate.
func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

func (h *Handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID, ok := parseUUID(w, q.Get("doctor_id"), "doctor_id")
	if !ok {
		return
	}
	facilityID, ok := parseUUID(w, q.Get("facility_id"), "facility_id")
	if !ok {
		return
	}
	date := q.Get("date")

	found, err := h.appts.AvailableSlots(r.Context(), doctorID, facilityID, date)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := SlotsResponse{Date: date, AvailableSlots: make([]SlotResponse, 0, len(found))}
	for _, s := range found {
		resp.AvailableSlots = append(resp.AvailableSlots, SlotResponse{
			Time:        s.Start.UTC(),
			DisplayTime: s.Start.In(h.loc).Format("03:04 PM"),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	facilityID, ok := parseUUID(w, req.FacilityID, "facility_id")
	if !ok {
		return
	}
	var patientID uuid.UUID
	if req.PatientID != "" {
		if patientID, ok = parseUUID(w, req.PatientID, "patient_id"); !ok {
			return
		}
	}

	appt, err := h.appts.Book(r.Context(), actor(r), appointment.BookRequest{
		PatientID:     patientID,
		DoctorID:      doctorID,
		FacilityID:    facilityID,
		ScheduledTime: req.ScheduledTime,
		Reason:        req.Reason,
		Type:          appointment.Type(req.Type),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.appts.Get(r.Context(), actor(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.appts.Cancel(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) checkIn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.appts.CheckIn(r.Context(), actor(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckInResponse{
		AppointmentID: appt.ID,
		TokenNumber:   appt.Token(),
		CheckInTime:   appt.CheckInTime,
	})
}

func (h *Handlers) queueAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req QueueActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.appts.QueueAction(r.Context(), actor(r), id, appointment.ActionRequest{
		Action: req.Action,
		Notes:  req.Notes,
		Reason: req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) updateVitals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var fields appointment.Vitals
	if !decodeJSON(w, r, &fields) {
		return
	}

	appt, err := h.appts.UpdateVitals(r.Context(), actor(r), id, fields)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.appts.UpdatePayment(r.Context(), actor(r), id, appointment.PaymentStatus(req.PaymentStatus))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) registerWalkIn(w http.ResponseWriter, r *http.Request) {
	var req WalkInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	facilityID, ok := parseUUID(w, req.FacilityID, "facility_id")
	if !ok {
		return
	}

	demo := appointment.PatientDemographics{
		Name:   req.Patient.Name,
		Phone:  req.Patient.Phone,
		Email:  req.Patient.Email,
		Gender: req.Patient.Gender,
	}
	if req.Patient.DateOfBirth != "" {
		dob, err := time.Parse(affiliation.DateLayout, req.Patient.DateOfBirth)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date_of_birth must be YYYY-MM-DD")
			return
		}
		demo.DateOfBirth = &dob
	}

	res, err := h.appts.RegisterWalkIn(r.Context(), actor(r), appointment.WalkInRequest{
		Patient:    demo,
		DoctorID:   doctorID,
		FacilityID: facilityID,
		Emergency:  req.IsEmergency,
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, WalkInResponse{
		AppointmentID:  res.Appointment.ID,
		PatientID:      res.Patient.ID,
		TokenNumber:    res.Appointment.Token(),
		Type:           string(res.Appointment.Type),
		PatientCreated: res.PatientCreated,
	})
}

func (h *Handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	facilityID, doctorID, ok := queuePath(w, r)
	if !ok {
		return
	}

	view, err := h.appts.Queue(r.Context(), actor(r), facilityID, doctorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toQueueResponse(view))
}

func (h *Handlers) setQueueStatus(w http.ResponseWriter, r *http.Request) {
	facilityID, doctorID, ok := queuePath(w, r)
	if !ok {
		return
	}
	var req QueueStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.appts.SetQueueStatus(r.Context(), actor(r), facilityID, doctorID, queue.DoctorStatus(req.Status), req.Message)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) requestAffiliation(w http.ResponseWriter, r *http.Request) {
	var req AffiliationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	facilityID, ok := parseUUID(w, req.FacilityID, "facility_id")
	if !ok {
		return
	}

	aff, err := h.affiliations.Request(r.Context(), actor(r), doctorID, facilityID, req.SlotDuration)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAffiliationResponse(aff))
}

func (h *Handlers) getAffiliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	aff, err := h.affiliations.Get(r.Context(), actor(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAffiliationResponse(aff))
}

func (h *Handlers) respondAffiliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RespondRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	aff, err := h.affiliations.Respond(r.Context(), actor(r), id, req.Approve)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAffiliationResponse(aff))
}

func (h *Handlers) revokeAffiliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	aff, err := h.affiliations.Revoke(r.Context(), actor(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAffiliationResponse(aff))
}

func (h *Handlers) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	aff, err := h.affiliations.UpdateSchedule(r.Context(), actor(r), id, affiliation.ScheduleUpdate{
		WeeklySchedule: req.WeeklySchedule,
		DateOverrides:  req.DateOverrides,
		SlotDuration:   req.SlotDuration,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAffiliationResponse(aff))
}
