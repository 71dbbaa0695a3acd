package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errReadOnly = errors.New("write attempted in a read-only view")

// MemoryStore keeps appointments in process. A single RWMutex serializes
// writers across all resources; views share the read lock.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Appointment
	events []Event
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]Appointment),
		now:  time.Now,
	}
}

func (s *MemoryStore) Serialize(ctx context.Context, resource ResourceID, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, staged: make(map[string]Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, a := range tx.staged {
		s.byID[id] = a
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &memTx{store: s, readOnly: true})
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the recorded audit events.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type memTx struct {
	store    *MemoryStore
	staged   map[string]Appointment
	readOnly bool
}

// all returns committed records with staged writes applied on top.
func (t *memTx) all() []Appointment {
	out := make([]Appointment, 0, len(t.store.byID)+len(t.staged))
	for id, a := range t.store.byID {
		if staged, ok := t.staged[id]; ok {
			a = staged
		}
		out = append(out, a)
	}
	for id, a := range t.staged {
		if _, ok := t.store.byID[id]; !ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (t *memTx) FindByID(ctx context.Context, id string) (*Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return &a, nil
	}
	a, ok := t.store.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) FindByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	var out []Appointment
	for _, a := range t.all() {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) FindInRange(ctx context.Context, from, to time.Time, date *time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range t.all() {
		if a.Status != StatusScheduled {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) {
			continue
		}
		if date != nil && (a.TargetDate == nil || !a.TargetDate.Equal(*date)) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *memTx) HasConflict(ctx context.Context, resource ResourceID, start, end time.Time, excludeID string) (bool, error) {
	for _, a := range t.all() {
		if a.Status != StatusScheduled || a.Resource != resource {
			continue
		}
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Insert(ctx context.Context, na NewAppointment) (*Appointment, error) {
	if t.readOnly {
		return nil, errReadOnly
	}

	now := t.store.now()
	a := Appointment{
		ID:         uuid.NewString(),
		Resource:   na.Resource,
		PatientID:  na.PatientID,
		Category:   na.Category,
		StartTime:  na.StartTime,
		EndTime:    na.EndTime,
		TargetDate: na.TargetDate,
		Status:     StatusScheduled,
		Notes:      na.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.staged[a.ID] = a
	return &a, nil
}

func (t *memTx) Save(ctx context.Context, a *Appointment) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, err := t.FindByID(ctx, a.ID); err != nil {
		return err
	}

	a.UpdatedAt = t.store.now()
	t.staged[a.ID] = *a
	return nil
}

func (t *memTx) FindEndedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range t.all() {
		if a.Status == StatusScheduled && !a.EndTime.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}
