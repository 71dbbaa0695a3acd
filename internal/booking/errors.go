package booking

import "errors"

var (
	ErrMissingStartTime     = errors.New("start time is required for non-emergency bookings")
	ErrNoAvailableSlot      = errors.New("no available slot on the requested date")
	ErrOutsideBusinessHours = errors.New("appointment must be within business hours Mon-Sat 08:00-18:00")
	ErrSlotConflict         = errors.New("requested time conflicts with an existing appointment")
	ErrNotFound             = errors.New("appointment not found")
	ErrStoreFailure         = errors.New("appointment store failure")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCategory   = errors.New("invalid appointment category")
	ErrInvalidStatus     = errors.New("invalid appointment status")
	ErrInvalidRequest    = errors.New("invalid booking request")
)
