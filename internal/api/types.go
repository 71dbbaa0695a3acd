package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-booking/internal/booking"
)

// WireTime is the naive local timestamp layout used on the wire.
const WireTime = "2006-01-02T15:04:05"

type BookAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	Category        string  `json:"category"`
	StartTime       *string `json:"start_time,omitempty"`
	TargetDate      *string `json:"target_date,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	StartTime string `json:"start_time"`
}

type AppointmentResponse struct {
	ID         string  `json:"id"`
	PatientID  string  `json:"patient_id"`
	Category   string  `json:"category"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	TargetDate *string `json:"target_date,omitempty"`
	Status     string  `json:"status"`
	Notes      *string `json:"notes,omitempty"`
}

type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

type SlotsResponse struct {
	Date            string   `json:"date"`
	DurationMinutes int      `json:"duration_minutes"`
	Slots           []string `json:"slots"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toResponse(a booking.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		Category:  string(a.Category),
		StartTime: a.StartTime.Format(WireTime),
		EndTime:   a.EndTime.Format(WireTime),
		Status:    string(a.Status),
		Notes:     a.Notes,
	}
	if a.TargetDate != nil {
		d := a.TargetDate.Format(time.DateOnly)
		resp.TargetDate = &d
	}
	return resp
}

func toListResponse(appts []booking.Appointment) AppointmentListResponse {
	out := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for _, a := range appts {
		out.Appointments = append(out.Appointments, toResponse(a))
	}
	return out
}

// parseTime accepts the naive wire layout or RFC3339. An offset, if given, is
// dropped and the wall-clock reading kept.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(WireTime, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected %s or RFC3339, got %q", WireTime, s)
	}
	return booking.WallClock(t), nil
}

// parseDate accepts YYYY-MM-DD or any timestamp parseTime understands.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return booking.DateOf(t), nil
}
