package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/booking"
)

// BookingService is the subset of *booking.Engine the HTTP layer calls.
type BookingService interface {
	Book(ctx context.Context, req booking.BookRequest) (*booking.Appointment, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Reschedule(ctx context.Context, id string, newStart time.Time) (*booking.Appointment, error)
	ListAvailableSlots(ctx context.Context, date time.Time, durationMinutes int) ([]time.Time, error)
	ListAppointmentsForPatient(ctx context.Context, patientID string) ([]booking.Appointment, error)
	ListAppointmentsBetween(ctx context.Context, from, to time.Time, date *time.Time) ([]booking.Appointment, error)
}

type RouterConfig struct {
	Service         BookingService
	DefaultDuration int
	// Required dependencies fail readiness; optional ones degrade it.
	Required map[string]Pinger
	Optional map[string]Pinger
	Env      string
	Version  string
	Logger   zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 30
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Required, cfg.Optional, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
	})
	r.Get("/slots", listSlotsHandler(cfg.Service, cfg.DefaultDuration))
	r.Get("/patients/{patientID}/appointments", listPatientAppointmentsHandler(cfg.Service))

	return r
}
