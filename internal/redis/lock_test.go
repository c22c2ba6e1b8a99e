package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWithLockReleasesKey(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, time.Second, 100*time.Millisecond)

	called := false
	err := locker.WithLock(context.Background(), "token:a", func(ctx context.Context) error {
		called = true
		if !mr.Exists("lock:token:a") {
			t.Fatal("lock key should exist inside the critical section")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !called {
		t.Fatal("critical section did not run")
	}
	if mr.Exists("lock:token:a") {
		t.Fatal("lock key should be released")
	}
}

func TestWithLockGivesUpAfterWait(t *testing.T) {
	mr, rdb := newTestClient(t)
	if err := mr.Set("lock:token:b", "someone-else"); err != nil {
		t.Fatal(err)
	}

	locker := NewRedisLocker(rdb, time.Second, 60*time.Millisecond)
	err := locker.WithLock(context.Background(), "token:b", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	if v, _ := mr.Get("lock:token:b"); v != "someone-else" {
		t.Fatal("foreign lock must not be released")
	}
}

func TestWithLockSerializesHolders(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, time.Second, 2*time.Second)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "token:c", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("with lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
}
