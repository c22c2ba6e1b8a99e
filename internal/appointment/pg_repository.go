package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-queue/internal/apperr"
	"github.com/hackgods/clinic-queue/internal/db"
)

const appointmentColumns = `id, patient_id, doctor_id, facility_id, scheduled_time, type, status, reason, notes,
	token_number, token_date, check_in_time, consultation_start_time, consultation_end_time, payment_status,
	vitals, cancelled_by, cancel_reason, cancelled_at, skipped_by, skip_reason, skipped_at, version,
	created_at, updated_at`

const patientColumns = `id, name, phone, email, gender, date_of_birth, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.FacilityID,
		&a.ScheduledTime,
		&a.Type,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.TokenNumber,
		&a.TokenDate,
		&a.CheckInTime,
		&a.ConsultationStartTime,
		&a.ConsultationEndTime,
		&a.PaymentStatus,
		&a.Vitals,
		&a.CancelledBy,
		&a.CancelReason,
		&a.CancelledAt,
		&a.SkippedBy,
		&a.SkipReason,
		&a.SkippedAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanPatient(row pgx.Row, extra ...any) (*Patient, error) {
	var p Patient

	dest := append([]any{
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.Gender,
		&p.DateOfBirth,
		&p.CreatedAt,
		&p.UpdatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

// mapWriteError translates index violations into domain errors.
func mapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err, "appointments_booked_slot_key"):
		return fmt.Errorf("doctor already booked at that time: %w", apperr.ErrSlotTaken)
	case db.IsUniqueViolation(err, "appointments_day_token_key"):
		return ErrTokenTaken
	case db.IsUniqueViolation(err, "appointments_in_consultation_key"):
		return ErrConsultationInProgress
	}
	return err
}

func vitalsOrEmpty(v Vitals) Vitals {
	if v == nil {
		return Vitals{}
	}
	return v
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, facility_id, scheduled_time, type, status, reason,
			token_number, token_date, check_in_time, payment_status, vitals, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.FacilityID, a.ScheduledTime, a.Type, a.Status, a.Reason,
		a.TokenNumber, a.TokenDate, a.CheckInTime, a.PaymentStatus, vitalsOrEmpty(a.Vitals))

	created, err := scanAppointment(row)
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    notes = $4,
		    token_number = $5,
		    token_date = $6,
		    check_in_time = $7,
		    consultation_start_time = $8,
		    consultation_end_time = $9,
		    payment_status = $10,
		    vitals = $11,
		    cancelled_by = $12,
		    cancel_reason = $13,
		    cancelled_at = $14,
		    skipped_by = $15,
		    skip_reason = $16,
		    skipped_at = $17,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, a.Version, a.Status, a.Notes, a.TokenNumber, a.TokenDate, a.CheckInTime,
		a.ConsultationStartTime, a.ConsultationEndTime, a.PaymentStatus, vitalsOrEmpty(a.Vitals),
		a.CancelledBy, a.CancelReason, a.CancelledAt, a.SkippedBy, a.SkipReason, a.SkippedAt)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleAppointment
		}
		if mapped := mapWriteError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) MaxToken(ctx context.Context, doctorID, facilityID uuid.UUID, tokenDate time.Time) (int, error) {
	var last int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0)
		FROM appointments
		WHERE doctor_id = $1
		  AND facility_id = $2
		  AND token_date = $3
	`, doctorID, facilityID, tokenDate).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("max token: %w", err)
	}
	return last, nil
}

func (r *PgRepository) ListQueue(ctx context.Context, doctorID, facilityID uuid.UUID, tokenDate time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND facility_id = $2
		  AND token_date = $3
		  AND status IN ('CHECKED_IN', 'IN_CONSULTATION')
		ORDER BY token_number
	`, doctorID, facilityID, tokenDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListTakenTimes(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_time
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_time >= $2
		  AND scheduled_time < $3
		  AND status NOT IN ('CANCELLED', 'SKIPPED')
		  AND type NOT IN ('WALK_IN', 'EMERGENCY')
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}

	taken, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("list taken times: %w", err)
	}
	return taken, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// FindOrCreatePatient relies on patients_phone_key; xmax = 0 only for a
// freshly inserted row.
func (r *PgRepository) FindOrCreatePatient(ctx context.Context, d PatientDemographics) (*Patient, bool, error) {
	var created bool

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, phone, email, gender, date_of_birth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (phone) WHERE phone IS NOT NULL
		DO UPDATE SET updated_at = now()
		RETURNING `+patientColumns+`, (xmax = 0)`,
		uuid.New(), d.Name, optional(d.Phone), optional(d.Email), optional(d.Gender), d.DateOfBirth)

	p, err := scanPatient(row, &created)
	if err != nil {
		return nil, false, fmt.Errorf("find or create patient: %w", err)
	}
	return p, created, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
