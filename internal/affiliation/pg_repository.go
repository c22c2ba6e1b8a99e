package affiliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-queue/internal/db"
)

const affiliationColumns = `id, doctor_id, facility_id, status, requested_by, weekly_schedule, date_overrides,
	slot_duration, updated_by, updated_role, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAffiliation(row pgx.Row) (*Affiliation, error) {
	var a Affiliation

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.FacilityID,
		&a.Status,
		&a.RequestedBy,
		&a.WeeklySchedule,
		&a.DateOverrides,
		&a.SlotDuration,
		&a.UpdatedBy,
		&a.UpdatedRole,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAffiliationNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Affiliation) (*Affiliation, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO affiliations (id, doctor_id, facility_id, status, requested_by, weekly_schedule, date_overrides,
			slot_duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+affiliationColumns,
		a.ID, a.DoctorID, a.FacilityID, a.Status, a.RequestedBy, orEmpty(a.WeeklySchedule), orEmpty(a.DateOverrides), a.SlotDuration)

	created, err := scanAffiliation(row)
	if err != nil {
		if db.IsUniqueViolation(err, "affiliations_pair_key") {
			return nil, ErrAffiliationExists
		}
		return nil, fmt.Errorf("insert affiliation: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Affiliation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+affiliationColumns+`
		FROM affiliations
		WHERE id = $1
	`, id)
	return scanAffiliation(row)
}

func (r *PgRepository) GetByPair(ctx context.Context, doctorID, facilityID uuid.UUID) (*Affiliation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+affiliationColumns+`
		FROM affiliations
		WHERE doctor_id = $1
		  AND facility_id = $2
		  AND status <> 'REJECTED'
	`, doctorID, facilityID)
	return scanAffiliation(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, by uuid.UUID, role string) (*Affiliation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE affiliations
		SET status = $2,
		    updated_by = $4,
		    updated_role = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+affiliationColumns,
		id, to, from, by, role)
	return scanAffiliation(row)
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, upd ScheduleUpdate) (*Affiliation, error) {
	var weekly, overrides, duration any
	if upd.WeeklySchedule != nil {
		weekly = orEmpty(*upd.WeeklySchedule)
	}
	if upd.DateOverrides != nil {
		overrides = orEmpty(*upd.DateOverrides)
	}
	if upd.SlotDuration != nil {
		duration = *upd.SlotDuration
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE affiliations
		SET weekly_schedule = COALESCE($2::jsonb, weekly_schedule),
		    date_overrides = COALESCE($3::jsonb, date_overrides),
		    slot_duration = COALESCE($4::int, slot_duration),
		    updated_by = $5,
		    updated_role = $6,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'APPROVED'
		RETURNING `+affiliationColumns,
		id, weekly, overrides, duration, upd.UpdatedBy, upd.UpdatedRole)
	return scanAffiliation(row)
}

// orEmpty keeps nil slices from being stored as JSON null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
