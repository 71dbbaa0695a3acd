package booking

import (
	"context"
	"time"
)

// Store owns appointment records. It is the only writer of the appointment
// interval space.
//
// A conflict check followed by an insert or save is a read-then-write
// sequence. Implementations must run each Serialize callback as a single
// serialized unit per resource, otherwise two concurrent bookings can both
// observe "no conflict" and both commit.
type Store interface {
	// Serialize runs fn exclusively with respect to every other Serialize call
	// for the same resource. Writes made through tx are committed only when fn
	// returns nil.
	Serialize(ctx context.Context, resource ResourceID, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn against a consistent read-only handle. Views may run
	// concurrently with each other.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	RecordEvent(ctx context.Context, ev Event) error
}

// Tx is the explicit handle handed to Serialize and View callbacks. It must not
// be retained after the callback returns.
type Tx interface {
	// FindByID returns ErrNotFound when no record has that id.
	FindByID(ctx context.Context, id string) (*Appointment, error)
	FindByPatient(ctx context.Context, patientID string) ([]Appointment, error)

	// FindInRange returns scheduled appointments with from <= start < to,
	// ordered by start. A non-nil date further restricts by target date.
	FindInRange(ctx context.Context, from, to time.Time, date *time.Time) ([]Appointment, error)

	// HasConflict reports whether a scheduled appointment on resource other
	// than excludeID overlaps [start, end). Pass "" to exclude nothing.
	HasConflict(ctx context.Context, resource ResourceID, start, end time.Time, excludeID string) (bool, error)

	Insert(ctx context.Context, a NewAppointment) (*Appointment, error)
	Save(ctx context.Context, a *Appointment) error

	// FindEndedBefore returns scheduled appointments with end <= t.
	FindEndedBefore(ctx context.Context, t time.Time) ([]Appointment, error)
}
