package redisclient

import (
	"context"

	"github.com/hackgods/clinic-booking/internal/booking"
)

// LockedStore adds a cross-replica resource lock around every serialized unit
// of the wrapped store. Reads and event writes pass straight through.
type LockedStore struct {
	inner  booking.Store
	locker Locker
}

func NewLockedStore(inner booking.Store, locker Locker) *LockedStore {
	return &LockedStore{inner: inner, locker: locker}
}

func (s *LockedStore) Serialize(ctx context.Context, resource booking.ResourceID, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.locker.WithResourceLock(ctx, string(resource), func(lockCtx context.Context) error {
		return s.inner.Serialize(lockCtx, resource, fn)
	})
}

func (s *LockedStore) View(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.inner.View(ctx, fn)
}

func (s *LockedStore) RecordEvent(ctx context.Context, ev booking.Event) error {
	return s.inner.RecordEvent(ctx, ev)
}
