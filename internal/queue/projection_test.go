package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/apperr"
)

func newKey() Key {
	return Key{FacilityID: uuid.New(), DoctorID: uuid.New()}
}

func recv(t *testing.T, ch <-chan Projection) Projection {
	t.Helper()
	select {
	case p, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for projection")
	}
	return Projection{}
}

func TestGetAbsentReturnsNotStarted(t *testing.T) {
	p := NewProjector(NewMemoryStore(), nil)
	key := newKey()

	got, err := p.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusNotStarted || got.IsLive || got.CurrentToken != 0 || got.Seq != 0 {
		t.Fatalf("unexpected empty projection: %+v", got)
	}
	if got.Key() != key {
		t.Fatalf("key mismatch: %+v", got.Key())
	}
}

func TestTouchKeepsCurrentToken(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(NewMemoryStore(), nil)
	key := newKey()

	if _, err := p.ServeToken(ctx, key, 3); err != nil {
		t.Fatalf("serve: %v", err)
	}
	got, err := p.Touch(ctx, key)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if got.CurrentToken != 3 || got.Status != StatusServing || !got.IsLive {
		t.Fatalf("touch changed serving state: %+v", got)
	}
	if got.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", got.Seq)
	}
}

func TestSetStatusLeavesTokenAndDerivesLive(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(NewMemoryStore(), nil)
	key := newKey()

	if _, err := p.ServeToken(ctx, key, 5); err != nil {
		t.Fatalf("serve: %v", err)
	}

	cases := []struct {
		status DoctorStatus
		live   bool
	}{
		{StatusOnBreak, true},
		{StatusInMeeting, true},
		{StatusEmergency, true},
		{StatusOffline, false},
		{StatusNotStarted, false},
		{StatusServing, true},
	}
	for _, tc := range cases {
		got, err := p.SetStatus(ctx, key, tc.status, "back at 2")
		if err != nil {
			t.Fatalf("set %s: %v", tc.status, err)
		}
		if got.IsLive != tc.live {
			t.Errorf("%s: is_live = %v, want %v", tc.status, got.IsLive, tc.live)
		}
		if got.CurrentToken != 5 {
			t.Errorf("%s: current token changed to %d", tc.status, got.CurrentToken)
		}
	}
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	p := NewProjector(NewMemoryStore(), nil)
	_, err := p.SetStatus(context.Background(), newKey(), "napping", "")
	if !errors.Is(err, ErrInvalidStatus) || !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestSubscribeSnapshotThenWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProjector(NewMemoryStore(), nil)
	key := newKey()

	if _, err := p.ServeToken(ctx, key, 1); err != nil {
		t.Fatalf("serve: %v", err)
	}

	stream, err := p.Subscribe(ctx, key)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snap := recv(t, stream)
	if snap.CurrentToken != 1 || snap.Seq != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if _, err := p.ServeToken(ctx, key, 2); err != nil {
		t.Fatalf("serve: %v", err)
	}
	next := recv(t, stream)
	if next.CurrentToken != 2 || next.Seq != 2 {
		t.Fatalf("unexpected update: %+v", next)
	}

	cancel()
	select {
	case _, ok := <-stream:
		if ok {
			// a buffered value may still be pending; the close must follow
			<-stream
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestMemoryStoreDropsOldestForSlowWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemoryStore()
	s.buffer = 2
	key := newKey()

	ch, err := s.Watch(ctx, key)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for i := 1; i <= 5; i++ {
		token := i
		if _, err := s.Update(ctx, key, func(cur *Projection) { cur.CurrentToken = token }); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	var last Projection
	for len(ch) > 0 {
		last = <-ch
	}
	if last.CurrentToken != 5 || last.Seq != 5 {
		t.Fatalf("latest write lost: %+v", last)
	}
}

func TestTouchDuringServeTokenKeepsToken(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(NewMemoryStore(), nil)
	key := newKey()

	const touches = 50
	var wg sync.WaitGroup
	for i := 0; i < touches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Touch(ctx, key); err != nil {
				t.Errorf("touch: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.ServeToken(ctx, key, 7); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	wg.Wait()

	got, err := p.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentToken != 7 || got.Status != StatusServing || !got.IsLive {
		t.Fatalf("serve lost to a concurrent touch: %+v", got)
	}
	if got.Seq != touches+1 {
		t.Fatalf("expected seq %d, got %d", touches+1, got.Seq)
	}
}

func TestResetBefore(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(NewMemoryStore(), nil)

	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	stale, fresh := newKey(), newKey()

	p.now = func() time.Time { return now.Add(-24 * time.Hour) }
	if _, err := p.ServeToken(ctx, stale, 9); err != nil {
		t.Fatalf("serve: %v", err)
	}
	p.now = func() time.Time { return now }
	if _, err := p.Touch(ctx, fresh); err != nil {
		t.Fatalf("touch: %v", err)
	}

	dayStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	removed, err := p.ResetBefore(ctx, dayStart)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	got, _ := p.Get(ctx, stale)
	if got.Status != StatusNotStarted || got.CurrentToken != 0 {
		t.Fatalf("stale projection survived: %+v", got)
	}
	got, _ = p.Get(ctx, fresh)
	if got.Seq == 0 {
		t.Fatal("fresh projection removed")
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	key := newKey()
	got, err := ParseKey(key.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != key {
		t.Fatalf("round trip mismatch: %v != %v", got, key)
	}

	for _, bad := range []string{"lock:x", "queue:nope", "queue:" + uuid.NewString() + ":x"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
