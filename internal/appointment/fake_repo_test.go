package appointment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/apperr"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
)

// fakeRepo enforces the same unique indexes as the schema, atomically.
type fakeRepo struct {
	mu         sync.Mutex
	appts      map[uuid.UUID]Appointment
	patients   map[uuid.UUID]Patient
	events     []EventLog
	failEvents bool
	// beforeUpdate runs ahead of every UpdateAppointment, outside the lock.
	beforeUpdate func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		appts:    make(map[uuid.UUID]Appointment),
		patients: make(map[uuid.UUID]Patient),
	}
}

func cloneAppt(a Appointment) *Appointment {
	a.Vitals = maps.Clone(a.Vitals)
	return &a
}

func sameDate(a, b *time.Time) bool {
	return a != nil && b != nil && a.Equal(*b)
}

// violation checks a against every other stored row.
func (f *fakeRepo) violation(a *Appointment) error {
	for id, row := range f.appts {
		if id == a.ID {
			continue
		}
		if !a.Type.WalkIn() && !row.Type.WalkIn() &&
			row.DoctorID == a.DoctorID && row.ScheduledTime.Equal(a.ScheduledTime) &&
			a.Status != StatusCancelled && a.Status != StatusSkipped &&
			row.Status != StatusCancelled && row.Status != StatusSkipped {
			return fmt.Errorf("doctor already booked at that time: %w", apperr.ErrSlotTaken)
		}
		if a.TokenNumber != nil && row.TokenNumber != nil &&
			row.DoctorID == a.DoctorID && row.FacilityID == a.FacilityID &&
			sameDate(row.TokenDate, a.TokenDate) && *row.TokenNumber == *a.TokenNumber {
			return ErrTokenTaken
		}
		if a.Status == StatusInConsultation && row.Status == StatusInConsultation && row.DoctorID == a.DoctorID {
			return ErrConsultationInProgress
		}
	}
	return nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return cloneAppt(a), nil
}

func (f *fakeRepo) InsertAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.violation(a); err != nil {
		return nil, err
	}
	c := cloneAppt(*a)
	c.Version = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.appts[c.ID] = *c
	return cloneAppt(*c), nil
}

func (f *fakeRepo) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	f.mu.Lock()
	hook := f.beforeUpdate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.appts[a.ID]
	if !ok || cur.Version != a.Version {
		return nil, ErrStaleAppointment
	}
	if err := f.violation(a); err != nil {
		return nil, err
	}
	c := cloneAppt(*a)
	c.Version++
	c.UpdatedAt = time.Now()
	f.appts[c.ID] = *c
	return cloneAppt(*c), nil
}

func (f *fakeRepo) MaxToken(_ context.Context, doctorID, facilityID uuid.UUID, tokenDate time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := 0
	for _, a := range f.appts {
		if a.DoctorID == doctorID && a.FacilityID == facilityID && sameDate(a.TokenDate, &tokenDate) && a.Token() > last {
			last = a.Token()
		}
	}
	return last, nil
}

func (f *fakeRepo) ListQueue(_ context.Context, doctorID, facilityID uuid.UUID, tokenDate time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appts {
		if a.DoctorID == doctorID && a.FacilityID == facilityID && sameDate(a.TokenDate, &tokenDate) &&
			(a.Status == StatusCheckedIn || a.Status == StatusInConsultation) {
			out = append(out, *cloneAppt(a))
		}
	}
	return out, nil
}

func (f *fakeRepo) ListTakenTimes(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, a := range f.appts {
		if a.DoctorID != doctorID || a.Type.WalkIn() || a.Status == StatusCancelled || a.Status == StatusSkipped {
			continue
		}
		if !a.ScheduledTime.Before(from) && a.ScheduledTime.Before(to) {
			out = append(out, a.ScheduledTime)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (f *fakeRepo) FindOrCreatePatient(_ context.Context, d PatientDemographics) (*Patient, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.Phone != "" {
		for _, p := range f.patients {
			if p.Phone != nil && *p.Phone == d.Phone {
				return &p, false, nil
			}
		}
	}
	p := Patient{ID: uuid.New(), Name: d.Name, Phone: optional(d.Phone), CreatedAt: time.Now()}
	f.patients[p.ID] = p
	return &p, true, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvents {
		return errors.New("event store down")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) addPatient(name string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := Patient{ID: uuid.New(), Name: name}
	f.patients[p.ID] = p
	return p.ID
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appts)
}

func (f *fakeRepo) eventTypes(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == id {
			out = append(out, ev.EventType)
		}
	}
	return out
}

// keyedLocker serializes per key in process.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// busyLocker refuses the first failures acquisitions with err, or with
// ErrLockNotAcquired when err is nil.
type busyLocker struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (l *busyLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.calls++
	fail := l.calls <= l.failures
	l.mu.Unlock()
	if fail {
		if l.err != nil {
			return l.err
		}
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

// timeoutError is what a network client reports when a deadline hits.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type fakeAffiliations struct {
	rows map[[2]uuid.UUID]*affiliation.Affiliation
}

func (f *fakeAffiliations) GetApproved(_ context.Context, doctorID, facilityID uuid.UUID) (*affiliation.Affiliation, error) {
	a, ok := f.rows[[2]uuid.UUID{doctorID, facilityID}]
	if !ok || a.Status != affiliation.StatusApproved {
		return nil, affiliation.ErrAffiliationNotFound
	}
	return a, nil
}
