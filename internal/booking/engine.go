package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
)

type BookRequest struct {
	PatientID string
	Category  Category
	// Start may be nil only for emergency bookings.
	Start           *time.Time
	TargetDate      *time.Time
	DurationMinutes int
	Notes           *string
}

// Engine drives the appointment lifecycle. It holds no state of its own; every
// check and write for a mutation runs inside one Store.Serialize unit so that
// validation and commit cannot interleave with another booking.
type Engine struct {
	store           Store
	resource        ResourceID
	defaultDuration int
	log             zerolog.Logger
	now             func() time.Time
}

func NewEngine(store Store, cfg config.Config, logger zerolog.Logger) *Engine {
	resource := ResourceID(strings.TrimSpace(cfg.BookingResource))
	if resource == "" {
		resource = DefaultResource
	}
	duration := cfg.DefaultDurationMinutes
	if duration <= 0 {
		duration = 30
	}

	return &Engine{
		store:           store,
		resource:        resource,
		defaultDuration: duration,
		log:             logger.With().Str("component", "booking").Str("resource", string(resource)).Logger(),
		now:             time.Now,
	}
}

// Book validates and commits a new scheduled appointment. Emergency requests
// without a start take the earliest free slot on the target date, using the
// requested duration as the search grid.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidRequest)
	}
	category, err := ParseCategory(string(req.Category))
	if err != nil {
		return nil, err
	}

	minutes, err := e.durationMinutes(req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(minutes) * time.Minute

	var start, targetDate *time.Time
	if req.TargetDate != nil {
		d := DateOf(WallClock(*req.TargetDate))
		targetDate = &d
	}
	if req.Start != nil {
		s := WallClock(*req.Start)
		d := DateOf(s)
		// target_date always mirrors the start's date
		if targetDate != nil && !targetDate.Equal(d) {
			return nil, fmt.Errorf("%w: target date %s does not match start %s",
				ErrInvalidRequest, targetDate.Format(time.DateOnly), s.Format(time.DateTime))
		}
		start, targetDate = &s, &d
	}

	var created *Appointment

	err = e.store.Serialize(ctx, e.resource, func(ctx context.Context, tx Tx) error {
		if category == CategoryEmergency && start == nil {
			if targetDate == nil {
				d := DateOf(WallClock(e.now()))
				targetDate = &d
			}
			earliest, ok, err := e.earliestSlot(ctx, tx, *targetDate, minutes)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrNoAvailableSlot, targetDate.Format(time.DateOnly))
			}
			start = &earliest
		}

		if start == nil {
			return ErrMissingStartTime
		}

		end := start.Add(duration)
		if !WithinBusinessHours(*start, end) {
			return ErrOutsideBusinessHours
		}

		conflict, err := tx.HasConflict(ctx, e.resource, *start, end, "")
		if err != nil {
			return storeErr("check conflict", err)
		}
		if conflict {
			return ErrSlotConflict
		}

		appt, err := tx.Insert(ctx, NewAppointment{
			Resource:   e.resource,
			PatientID:  req.PatientID,
			Category:   category,
			StartTime:  *start,
			EndTime:    end,
			TargetDate: targetDate,
			Notes:      req.Notes,
		})
		if err != nil {
			return storeErr("insert appointment", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, e.fail("book", err)
	}

	e.log.Info().
		Str("appointment_id", created.ID).
		Str("patient_id", created.PatientID).
		Str("category", string(created.Category)).
		Time("start", created.StartTime).
		Time("end", created.EndTime).
		Msg("appointment booked")

	e.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id": created.PatientID,
		"category":   created.Category,
		"start_time": created.StartTime,
		"end_time":   created.EndTime,
	})

	return created, nil
}

// Cancel marks a scheduled appointment cancelled. It returns false without
// error when the id is unknown or the appointment is already cancelled.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	var cancelled bool

	err := e.store.Serialize(ctx, e.resource, func(ctx context.Context, tx Tx) error {
		appt, err := tx.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return storeErr("load appointment", err)
		}

		switch appt.Status {
		case StatusCancelled:
			return nil
		case StatusCompleted:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, StatusCancelled)
		}

		appt.Status = StatusCancelled
		if err := tx.Save(ctx, appt); err != nil {
			return storeErr("save appointment", err)
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, e.fail("cancel", err)
	}

	if cancelled {
		e.log.Info().Str("appointment_id", id).Msg("appointment cancelled")
		e.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{})
	}

	return cancelled, nil
}

// Reschedule moves a scheduled appointment to newStart, keeping its duration.
// The conflict check ignores the appointment itself.
func (e *Engine) Reschedule(ctx context.Context, id string, newStart time.Time) (*Appointment, error) {
	start := WallClock(newStart)
	var (
		updated  *Appointment
		oldStart time.Time
	)

	err := e.store.Serialize(ctx, e.resource, func(ctx context.Context, tx Tx) error {
		appt, err := tx.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("reschedule %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return storeErr("load appointment", err)
		}
		if appt.Status.Terminal() {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
		}

		end := start.Add(appt.Duration())
		if !WithinBusinessHours(start, end) {
			return ErrOutsideBusinessHours
		}

		conflict, err := tx.HasConflict(ctx, appt.Resource, start, end, appt.ID)
		if err != nil {
			return storeErr("check conflict", err)
		}
		if conflict {
			return ErrSlotConflict
		}

		oldStart = appt.StartTime
		date := DateOf(start)
		appt.StartTime = start
		appt.EndTime = end
		appt.TargetDate = &date

		if err := tx.Save(ctx, appt); err != nil {
			return storeErr("save appointment", err)
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, e.fail("reschedule", err)
	}

	e.log.Info().
		Str("appointment_id", updated.ID).
		Time("from", oldStart).
		Time("to", updated.StartTime).
		Msg("appointment rescheduled")

	e.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
		"previous_start": oldStart,
		"start_time":     updated.StartTime,
		"end_time":       updated.EndTime,
	})

	return updated, nil
}

// ListAvailableSlots returns the free slot starts on date, in order.
// Sundays have no slots.
func (e *Engine) ListAvailableSlots(ctx context.Context, date time.Time, durationMinutes int) ([]time.Time, error) {
	minutes, err := e.durationMinutes(durationMinutes)
	if err != nil {
		return nil, err
	}
	day := DateOf(WallClock(date))
	if !IsBusinessDay(day) {
		return []time.Time{}, nil
	}

	var slots []time.Time
	err = e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := e.dayAppointments(ctx, tx, day)
		if err != nil {
			return err
		}
		slots = slices.Collect(AvailableSlots(day, minutes, existing))
		return nil
	})
	if err != nil {
		return nil, e.fail("list slots", err)
	}
	return slots, nil
}

func (e *Engine) ListAppointmentsForPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	var out []Appointment
	err := e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		appts, err := tx.FindByPatient(ctx, patientID)
		if err != nil {
			return storeErr("list by patient", err)
		}
		out = appts
		return nil
	})
	if err != nil {
		return nil, e.fail("list by patient", err)
	}
	return out, nil
}

// ListAppointmentsBetween returns scheduled appointments starting in [from, to).
func (e *Engine) ListAppointmentsBetween(ctx context.Context, from, to time.Time, date *time.Time) ([]Appointment, error) {
	from, to = WallClock(from), WallClock(to)
	if date != nil {
		d := DateOf(WallClock(*date))
		date = &d
	}

	var out []Appointment
	err := e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		appts, err := tx.FindInRange(ctx, from, to, date)
		if err != nil {
			return storeErr("list in range", err)
		}
		out = appts
		return nil
	})
	if err != nil {
		return nil, e.fail("list in range", err)
	}
	return out, nil
}

// durationMinutes applies the default and rejects lengths no business day can hold.
func (e *Engine) durationMinutes(minutes int) (int, error) {
	if minutes <= 0 {
		return e.defaultDuration, nil
	}
	if minutes > MaxDurationMinutes {
		return 0, fmt.Errorf("%w: duration %d minutes exceeds the %d minute business day",
			ErrInvalidRequest, minutes, MaxDurationMinutes)
	}
	return minutes, nil
}

func (e *Engine) earliestSlot(ctx context.Context, tx Tx, day time.Time, minutes int) (time.Time, bool, error) {
	existing, err := e.dayAppointments(ctx, tx, day)
	if err != nil {
		return time.Time{}, false, err
	}
	for s := range AvailableSlots(day, minutes, existing) {
		return s, true, nil
	}
	return time.Time{}, false, nil
}

func (e *Engine) dayAppointments(ctx context.Context, tx Tx, day time.Time) ([]Appointment, error) {
	opens, closes := BusinessDay(day)
	existing, err := tx.FindInRange(ctx, opens, closes, &day)
	if err != nil {
		return nil, storeErr("load day appointments", err)
	}
	return existing, nil
}

// fail turns anything that is not a booking rule violation into a store failure.
func (e *Engine) fail(op string, err error) error {
	if !errors.Is(err, ErrStoreFailure) {
		if isRuleViolation(err) {
			return err
		}
		err = storeErr(op, err)
	}
	e.log.Error().Err(err).Str("op", op).Msg("appointment store failure")
	return err
}

func isRuleViolation(err error) bool {
	for _, target := range []error{
		ErrMissingStartTime,
		ErrNoAvailableSlot,
		ErrOutsideBusinessHours,
		ErrSlotConflict,
		ErrNotFound,
		ErrInvalidTransition,
		ErrInvalidCategory,
		ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

func (e *Engine) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := Event{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     e.now(),
	}

	if err := e.store.RecordEvent(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Str("appointment_id", appointmentID).Msg("failed to record event")
	}
}
