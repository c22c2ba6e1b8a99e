// Package queue maintains the live per doctor queue view. The projection is
// an advisory cache derived from appointment state; readers reconcile against
// the appointment ledger when they need the truth.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/apperr"
)

type DoctorStatus string

const (
	StatusNotStarted DoctorStatus = "not_started"
	StatusServing    DoctorStatus = "serving"
	StatusOnBreak    DoctorStatus = "on_break"
	StatusInMeeting  DoctorStatus = "in_meeting"
	StatusEmergency  DoctorStatus = "emergency"
	StatusOffline    DoctorStatus = "offline"
)

var ErrInvalidStatus = fmt.Errorf("invalid doctor status: %w", apperr.ErrValidation)

// ErrUpdateContended means every optimistic write attempt lost to another writer.
var ErrUpdateContended = fmt.Errorf("projection update contended: %w", apperr.ErrVersionConflict)

func (s DoctorStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusServing, StatusOnBreak, StatusInMeeting, StatusEmergency, StatusOffline:
		return true
	}
	return false
}

// Live reports whether the doctor is considered present at the facility.
func (s DoctorStatus) Live() bool {
	switch s {
	case StatusServing, StatusOnBreak, StatusInMeeting, StatusEmergency:
		return true
	}
	return false
}

// Key identifies one projection. Its String form doubles as the redis key
// and pub/sub channel.
type Key struct {
	FacilityID uuid.UUID
	DoctorID   uuid.UUID
}

const keyPrefix = "queue:"

func (k Key) String() string {
	return keyPrefix + k.FacilityID.String() + ":" + k.DoctorID.String()
}

func ParseKey(s string) (Key, error) {
	rest, ok := strings.CutPrefix(s, keyPrefix)
	if !ok {
		return Key{}, fmt.Errorf("queue key %q: missing prefix", s)
	}
	facility, doctor, ok := strings.Cut(rest, ":")
	if !ok {
		return Key{}, fmt.Errorf("queue key %q: malformed", s)
	}
	fid, err := uuid.Parse(facility)
	if err != nil {
		return Key{}, fmt.Errorf("queue key %q: facility: %w", s, err)
	}
	did, err := uuid.Parse(doctor)
	if err != nil {
		return Key{}, fmt.Errorf("queue key %q: doctor: %w", s, err)
	}
	return Key{FacilityID: fid, DoctorID: did}, nil
}

type Projection struct {
	FacilityID    uuid.UUID    `json:"facility_id"`
	DoctorID      uuid.UUID    `json:"doctor_id"`
	CurrentToken  int          `json:"current_token"`
	IsLive        bool         `json:"is_live"`
	Status        DoctorStatus `json:"status"`
	StatusMessage string       `json:"status_message,omitempty"`
	LastUpdated   time.Time    `json:"last_updated"`
	// Seq is assigned by the store on every write and only grows per key.
	Seq int64 `json:"seq"`
}

func (p Projection) Key() Key {
	return Key{FacilityID: p.FacilityID, DoctorID: p.DoctorID}
}

// Empty is what readers see before the first write of the day.
func Empty(key Key) Projection {
	return Projection{
		FacilityID: key.FacilityID,
		DoctorID:   key.DoctorID,
		Status:     StatusNotStarted,
	}
}

// Store is the push channel behind the projector. Load returns (nil, nil)
// for an absent key. Update applies mutate to the stored projection (or to
// Empty) atomically with respect to other writers of the same key, assigns
// Seq, persists, and publishes to current watchers. Watch channels close
// when ctx is done.
type Store interface {
	Load(ctx context.Context, key Key) (*Projection, error)
	Update(ctx context.Context, key Key, mutate func(*Projection)) (Projection, error)
	Watch(ctx context.Context, key Key) (<-chan Projection, error)
	Delete(ctx context.Context, key Key) error
	Keys(ctx context.Context) ([]Key, error)
}

type Projector struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewProjector(store Store, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{store: store, logger: logger, now: time.Now}
}

func (p *Projector) Get(ctx context.Context, key Key) (Projection, error) {
	cur, err := p.store.Load(ctx, key)
	if err != nil {
		return Projection{}, err
	}
	if cur == nil {
		return Empty(key), nil
	}
	return *cur, nil
}

// Touch records queue growth after a check-in without moving the current token.
func (p *Projector) Touch(ctx context.Context, key Key) (Projection, error) {
	return p.update(ctx, key, func(*Projection) {})
}

// ServeToken marks token as being served and the doctor as live.
func (p *Projector) ServeToken(ctx context.Context, key Key, token int) (Projection, error) {
	return p.update(ctx, key, func(cur *Projection) {
		cur.CurrentToken = token
		cur.Status = StatusServing
		cur.IsLive = true
		cur.StatusMessage = ""
	})
}

// SetStatus changes the availability label and leaves CurrentToken alone.
func (p *Projector) SetStatus(ctx context.Context, key Key, status DoctorStatus, message string) (Projection, error) {
	if !status.Valid() {
		return Projection{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return p.update(ctx, key, func(cur *Projection) {
		cur.Status = status
		cur.IsLive = status.Live()
		cur.StatusMessage = message
	})
}

// update hands mutate to the store so it only ever sees the latest state;
// mutate may run more than once.
func (p *Projector) update(ctx context.Context, key Key, mutate func(*Projection)) (Projection, error) {
	return p.store.Update(ctx, key, func(cur *Projection) {
		mutate(cur)
		cur.FacilityID = key.FacilityID
		cur.DoctorID = key.DoctorID
		cur.LastUpdated = p.now().UTC()
	})
}

// Subscribe delivers the current snapshot followed by every later write.
// The watch is opened before the snapshot is read so no write falls in
// between; writes already covered by the snapshot are dropped by Seq.
func (p *Projector) Subscribe(ctx context.Context, key Key) (<-chan Projection, error) {
	ctx, cancel := context.WithCancel(ctx)

	updates, err := p.store.Watch(ctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	snap, err := p.Get(ctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Projection, 1)
	out <- snap

	go func() {
		defer cancel()
		defer close(out)

		last := snap.Seq
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if u.Seq <= last {
					continue
				}
				last = u.Seq
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// ResetBefore removes projections not written since cutoff and returns how
// many were removed.
func (p *Projector) ResetBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := p.store.Keys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, key := range keys {
		cur, err := p.store.Load(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cur == nil || !cur.LastUpdated.Before(cutoff) {
			continue
		}
		if err := p.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		p.logger.Debug("queue projection reset",
			zap.String("key", key.String()),
			zap.Time("last_updated", cur.LastUpdated),
		)
	}
	return removed, errors.Join(errs...)
}
