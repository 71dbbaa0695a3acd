package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithResourceLock_ReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 100*time.Millisecond)

	err := locker.WithResourceLock(context.Background(), "clinic", func(ctx context.Context) error {
		if !mr.Exists(lockKey("clinic")) {
			t.Fatal("lock key should be held inside the critical section")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithResourceLock: %v", err)
	}
	if mr.Exists(lockKey("clinic")) {
		t.Fatal("lock key should be released")
	}
}

func TestWithResourceLock_PropagatesFnError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 100*time.Millisecond)
	boom := errors.New("boom")

	err := locker.WithResourceLock(context.Background(), "clinic", func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if mr.Exists(lockKey("clinic")) {
		t.Fatal("lock must be released on error")
	}
}

func TestWithResourceLock_BusyLockTimesOut(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 60*time.Millisecond)

	if err := mr.Set(lockKey("clinic"), "someone-else"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	called := false
	err := locker.WithResourceLock(context.Background(), "clinic", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	if called {
		t.Fatal("critical section ran without the lock")
	}

	// a foreign holder's key is never deleted by us
	if got, _ := mr.Get(lockKey("clinic")); got != "someone-else" {
		t.Fatalf("foreign lock was touched: %q", got)
	}
}

func TestWithResourceLock_Exclusive(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 5*time.Second)

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithResourceLock(context.Background(), "clinic", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("WithResourceLock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("critical section held by %d goroutines at once", maxSeen)
	}
}

func TestWithResourceLock_SeparateResources(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 50*time.Millisecond)

	if err := mr.Set(lockKey("room-1"), "held"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if err := locker.WithResourceLock(context.Background(), "room-2", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("a different resource must not be blocked: %v", err)
	}
}

func TestLockedStore_SerializesBookings(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 5*time.Second)
	mem := booking.NewMemoryStore()
	store := NewLockedStore(mem, locker)
	engine := booking.NewEngine(store, config.Config{BookingResource: "clinic", DefaultDurationMinutes: 30}, zerolog.Nop())

	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	const workers = 10

	var (
		wg        sync.WaitGroup
		successes int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Book(context.Background(), booking.BookRequest{
				PatientID: "P1",
				Category:  booking.CategoryCleaning,
				Start:     &start,
			})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, booking.ErrSlotConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one booking, got %d", successes)
	}
	if len(mem.Events()) != 1 {
		t.Fatalf("events pass through to the inner store, got %d", len(mem.Events()))
	}
}

func TestLockedStore_LockTimeoutIsStoreFailure(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisResourceLocker(client, 5*time.Second, 30*time.Millisecond)
	store := NewLockedStore(booking.NewMemoryStore(), locker)
	engine := booking.NewEngine(store, config.Config{}, zerolog.Nop())

	if err := mr.Set(lockKey("clinic"), "stuck"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	_, err := engine.Book(context.Background(), booking.BookRequest{PatientID: "P1", Category: booking.CategoryCleaning, Start: &start})
	if !errors.Is(err, booking.ErrStoreFailure) || !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected a store failure wrapping ErrLockNotAcquired, got %v", err)
	}
}
