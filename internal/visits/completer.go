// Package visits closes out appointments after the visit has happened. It is
// the only producer of the completed status.
package visits

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/booking"
)

type Completer struct {
	store    booking.Store
	resource booking.ResourceID
	log      zerolog.Logger
	now      func() time.Time
}

func NewCompleter(store booking.Store, resource booking.ResourceID, logger zerolog.Logger) *Completer {
	if resource == "" {
		resource = booking.DefaultResource
	}
	return &Completer{
		store:    store,
		resource: resource,
		log:      logger.With().Str("component", "completer").Logger(),
		now:      time.Now,
	}
}

// CompletePast marks every scheduled appointment that ended at or before the
// current wall-clock time as completed. It returns how many were updated.
func (c *Completer) CompletePast(ctx context.Context) (int, error) {
	cutoff := booking.WallClock(c.now())
	var completed []booking.Appointment

	err := c.store.Serialize(ctx, c.resource, func(ctx context.Context, tx booking.Tx) error {
		ended, err := tx.FindEndedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("find ended appointments: %w", err)
		}

		for i := range ended {
			appt := ended[i]
			appt.Status = booking.StatusCompleted
			if err := tx.Save(ctx, &appt); err != nil {
				return fmt.Errorf("complete appointment %s: %w", appt.ID, err)
			}
			completed = append(completed, appt)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", booking.ErrStoreFailure, err)
	}

	for _, appt := range completed {
		payload, _ := json.Marshal(map[string]any{"end_time": appt.EndTime})
		ev := booking.Event{
			EventType:     booking.EventAppointmentCompleted,
			AppointmentID: appt.ID,
			Payload:       payload,
			CreatedAt:     c.now(),
		}
		if err := c.store.RecordEvent(ctx, ev); err != nil {
			c.log.Warn().Err(err).Str("appointment_id", appt.ID).Msg("failed to record completion event")
		}
	}

	if len(completed) > 0 {
		c.log.Info().Int("count", len(completed)).Time("cutoff", cutoff).Msg("appointments completed")
	}
	return len(completed), nil
}
