package booking

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ParseStatus accepts only the known lifecycle states.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusScheduled, StatusCancelled, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Category string

const (
	CategoryCleaning       Category = "cleaning"
	CategoryGeneralCheckup Category = "general_checkup"
	CategoryEmergency      Category = "emergency"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryCleaning, CategoryGeneralCheckup, CategoryEmergency:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
}

// ResourceID names the calendar an appointment occupies. There is a single
// clinic calendar today; the key exists so conflicts are always scoped.
type ResourceID string

const DefaultResource ResourceID = "clinic"

type Appointment struct {
	ID         string
	Resource   ResourceID
	PatientID  string
	Category   Category
	StartTime  time.Time
	EndTime    time.Time
	TargetDate *time.Time
	Status     Status
	Notes      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// NewAppointment carries the fields a store needs to insert a booking. The
// store assigns ID, status and audit timestamps.
type NewAppointment struct {
	Resource   ResourceID
	PatientID  string
	Category   Category
	StartTime  time.Time
	EndTime    time.Time
	TargetDate *time.Time
	Notes      *string
}

// Slot is a candidate window returned by the slot generator. Never persisted.
type Slot struct {
	Start time.Time
	End   time.Time
}

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

type Event struct {
	ID            int64
	EventType     string
	AppointmentID string
	Payload       []byte
	CreatedAt     time.Time
}
