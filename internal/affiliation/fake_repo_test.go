package affiliation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Affiliation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[uuid.UUID]*Affiliation)}
}

func clone(a *Affiliation) *Affiliation {
	c := *a
	return &c
}

func (f *fakeRepo) Create(_ context.Context, a *Affiliation) (*Affiliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.DoctorID == a.DoctorID && row.FacilityID == a.FacilityID && row.Status != StatusRejected {
			return nil, ErrAffiliationExists
		}
	}
	c := clone(a)
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.rows[c.ID] = c
	return clone(c), nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Affiliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, ErrAffiliationNotFound
	}
	return clone(row), nil
}

func (f *fakeRepo) GetByPair(_ context.Context, doctorID, facilityID uuid.UUID) (*Affiliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.DoctorID == doctorID && row.FacilityID == facilityID && row.Status != StatusRejected {
			return clone(row), nil
		}
	}
	return nil, ErrAffiliationNotFound
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, by uuid.UUID, role string) (*Affiliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != from {
		return nil, ErrAffiliationNotFound
	}
	row.Status = to
	row.UpdatedBy = &by
	row.UpdatedRole = &role
	row.UpdatedAt = time.Now()
	return clone(row), nil
}

func (f *fakeRepo) UpdateSchedule(_ context.Context, id uuid.UUID, upd ScheduleUpdate) (*Affiliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != StatusApproved {
		return nil, ErrAffiliationNotFound
	}
	if upd.WeeklySchedule != nil {
		row.WeeklySchedule = *upd.WeeklySchedule
	}
	if upd.DateOverrides != nil {
		row.DateOverrides = *upd.DateOverrides
	}
	if upd.SlotDuration != nil {
		row.SlotDuration = *upd.SlotDuration
	}
	by, role := upd.UpdatedBy, upd.UpdatedRole
	row.UpdatedBy = &by
	row.UpdatedRole = &role
	row.UpdatedAt = time.Now()
	return clone(row), nil
}
