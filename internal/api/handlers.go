package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/booking"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

func bookAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		category, err := booking.ParseCategory(req.Category)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_category", err.Error())
			return
		}

		br := booking.BookRequest{
			PatientID:       req.PatientID,
			Category:        category,
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
		}
		if req.StartTime != nil && *req.StartTime != "" {
			start, err := parseTime(*req.StartTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
				return
			}
			br.Start = &start
		}
		if req.TargetDate != nil && *req.TargetDate != "" {
			date, err := parseDate(*req.TargetDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_target_date", err.Error())
				return
			}
			br.TargetDate = &date
		}

		appt, err := svc.Book(r.Context(), br)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toResponse(*appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		cancelled, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelResponse{ID: id, Cancelled: cancelled})
	}
}

func rescheduleAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err := parseTime(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, start)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(*appt))
	}
}

func listSlotsHandler(svc BookingService, defaultDuration int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		date, err := parseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		duration := defaultDuration
		if raw := q.Get("duration"); raw != "" {
			duration, err = strconv.Atoi(raw)
			if err != nil || duration <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
				return
			}
		}

		slots, err := svc.ListAvailableSlots(r.Context(), date, duration)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		resp := SlotsResponse{
			Date:            date.Format(time.DateOnly),
			DurationMinutes: duration,
			Slots:           make([]string, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, s.Format(WireTime))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listPatientAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := strings.TrimSpace(chi.URLParam(r, "patientID"))
		if patientID == "" {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient id is required")
			return
		}

		appts, err := svc.ListAppointmentsForPatient(r.Context(), patientID)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toListResponse(appts))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		from, err := parseTime(q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
			return
		}
		to, err := parseTime(q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
			return
		}
		if !from.Before(to) {
			writeError(w, http.StatusBadRequest, "invalid_range", "from must be before to")
			return
		}

		var date *time.Time
		if raw := q.Get("date"); raw != "" {
			d, err := parseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
				return
			}
			date = &d
		}

		appts, err := svc.ListAppointmentsBetween(r.Context(), from, to, date)
		if err != nil {
			handleBookingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toListResponse(appts))
	}
}

// handleBookingError maps engine errors to responses. Store and internal
// failures keep their cause in the request log only.
func handleBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusServiceUnavailable, "resource_busy", "calendar is busy, please retry shortly")
	case errors.Is(err, booking.ErrStoreFailure):
		zerolog.Ctx(r.Context()).Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("store failure")
		writeError(w, http.StatusServiceUnavailable, "store_failure", "appointment store is unavailable, please retry")
	case errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "invalid_category", err.Error())
	case errors.Is(err, booking.ErrMissingStartTime):
		writeError(w, http.StatusBadRequest, "missing_start_time", err.Error())
	case errors.Is(err, booking.ErrOutsideBusinessHours):
		writeError(w, http.StatusUnprocessableEntity, "outside_business_hours", err.Error())
	case errors.Is(err, booking.ErrNoAvailableSlot):
		writeError(w, http.StatusUnprocessableEntity, "no_available_slot", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("unexpected booking error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
