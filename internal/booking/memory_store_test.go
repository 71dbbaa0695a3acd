package booking

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_FailedUnitDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Serialize(ctx, DefaultResource, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Insert(ctx, NewAppointment{
			Resource:  DefaultResource,
			PatientID: "P1",
			Category:  CategoryCleaning,
			StartTime: mon(9, 0),
			EndTime:   mon(9, 30),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx Tx) error {
		got, _ := tx.FindByPatient(ctx, "P1")
		if len(got) != 0 {
			t.Fatalf("rolled back insert is visible: %+v", got)
		}
		return nil
	})
}

func TestMemoryStore_StagedWritesVisibleInsideUnit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Serialize(ctx, DefaultResource, func(ctx context.Context, tx Tx) error {
		a, err := tx.Insert(ctx, NewAppointment{
			Resource:  DefaultResource,
			PatientID: "P1",
			Category:  CategoryCleaning,
			StartTime: mon(9, 0),
			EndTime:   mon(9, 30),
		})
		if err != nil {
			return err
		}
		conflict, err := tx.HasConflict(ctx, DefaultResource, mon(9, 15), mon(9, 45), "")
		if err != nil {
			return err
		}
		if !conflict {
			t.Fatal("staged insert must be seen by the conflict check")
		}
		if conflict, _ := tx.HasConflict(ctx, DefaultResource, mon(9, 15), mon(9, 45), a.ID); conflict {
			t.Fatal("excluded id must not conflict with itself")
		}
		if conflict, _ := tx.HasConflict(ctx, ResourceID("other-room"), mon(9, 15), mon(9, 45), ""); conflict {
			t.Fatal("conflicts are scoped to the resource")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.View(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Insert(ctx, NewAppointment{PatientID: "P1", StartTime: mon(9, 0), EndTime: mon(9, 30)})
		return err
	})
	if !errors.Is(err, errReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}

func TestMemoryStore_FindByIDAndSave(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var id string
	_ = store.Serialize(ctx, DefaultResource, func(ctx context.Context, tx Tx) error {
		a, err := tx.Insert(ctx, NewAppointment{Resource: DefaultResource, PatientID: "P1", StartTime: mon(9, 0), EndTime: mon(9, 30)})
		id = a.ID
		return err
	})

	err := store.Serialize(ctx, DefaultResource, func(ctx context.Context, tx Tx) error {
		if _, err := tx.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := tx.Save(ctx, &Appointment{ID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("saving an unknown id: expected ErrNotFound, got %v", err)
		}

		a, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		a.Status = StatusCancelled
		return tx.Save(ctx, a)
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if a.Status != StatusCancelled {
			t.Fatalf("status = %s, want cancelled", a.Status)
		}
		in, _ := tx.FindInRange(ctx, mon(0, 0), mon(23, 0), nil)
		if len(in) != 0 {
			t.Fatal("cancelled appointments are not listed in range")
		}
		return nil
	})
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Serialize(ctx, DefaultResource, func(ctx context.Context, tx Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected context.Canceled before fn runs, got %v (called=%v)", err, called)
	}
}
