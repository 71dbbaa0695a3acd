package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := booking.NewEngine(booking.NewMemoryStore(), config.Config{DefaultDurationMinutes: 30}, zerolog.Nop())
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service:         engine,
		DefaultDuration: 30,
		Env:             "test",
		Version:         "v0.0.0",
		Logger:          zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func strp(s string) *string { return &s }

func TestBookAndListFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/appointments", BookAppointmentRequest{
		PatientID: "P1",
		Category:  "cleaning",
		StartTime: strp("2025-01-06T09:00:00"),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d body=%s", resp.StatusCode, body)
	}
	created := decode[AppointmentResponse](t, body)
	if created.EndTime != "2025-01-06T09:30:00" || created.Status != "scheduled" {
		t.Fatalf("unexpected appointment %+v", created)
	}
	if created.TargetDate == nil || *created.TargetDate != "2025-01-06" {
		t.Fatalf("target date = %v", created.TargetDate)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/appointments", BookAppointmentRequest{
		PatientID: "P2",
		Category:  "general_checkup",
		StartTime: strp("2025-01-06T09:15:00"),
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("conflicting book status = %d", resp.StatusCode)
	}
	if e := decode[ErrorResponse](t, body); e.Error != "slot_conflict" {
		t.Fatalf("error code = %q", e.Error)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/slots?date=2025-01-06&duration=30", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slots status = %d", resp.StatusCode)
	}
	slots := decode[SlotsResponse](t, body)
	if len(slots.Slots) != 19 || slots.DurationMinutes != 30 || slots.Date != "2025-01-06" {
		t.Fatalf("unexpected slots response %+v", slots)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/patients/P1/appointments", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patient list status = %d", resp.StatusCode)
	}
	if list := decode[AppointmentListResponse](t, body); len(list.Appointments) != 1 || list.Appointments[0].ID != created.ID {
		t.Fatalf("unexpected patient list %+v", list)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/appointments?from=2025-01-06T00:00:00&to=2025-01-07T00:00:00&date=2025-01-06", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("range list status = %d", resp.StatusCode)
	}
	if list := decode[AppointmentListResponse](t, body); len(list.Appointments) != 1 {
		t.Fatalf("expected 1 appointment in range, got %d", len(list.Appointments))
	}
}

func TestRescheduleAndCancel(t *testing.T) {
	srv := newTestServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/appointments", BookAppointmentRequest{
		PatientID:       "P1",
		Category:        "general_checkup",
		StartTime:       strp("2025-01-06T09:00:00"),
		DurationMinutes: 60,
	})
	created := decode[AppointmentResponse](t, body)

	resp, body := do(t, http.MethodPost, srv.URL+"/appointments/"+created.ID+"/reschedule", RescheduleRequest{StartTime: "2025-01-07T14:00:00+02:00"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reschedule status = %d body=%s", resp.StatusCode, body)
	}
	moved := decode[AppointmentResponse](t, body)
	if moved.StartTime != "2025-01-07T14:00:00" || moved.EndTime != "2025-01-07T15:00:00" {
		t.Fatalf("offset must be dropped and duration kept, got %s-%s", moved.StartTime, moved.EndTime)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/appointments/"+created.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK || !decode[CancelResponse](t, body).Cancelled {
		t.Fatalf("first cancel: status=%d body=%s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/appointments/"+created.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK || decode[CancelResponse](t, body).Cancelled {
		t.Fatalf("second cancel should report false: status=%d body=%s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/appointments/"+created.ID+"/reschedule", RescheduleRequest{StartTime: "2025-01-08T10:00:00"})
	if resp.StatusCode != http.StatusConflict || decode[ErrorResponse](t, body).Error != "invalid_transition" {
		t.Fatalf("reschedule cancelled: status=%d body=%s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/appointments/nope/reschedule", RescheduleRequest{StartTime: "2025-01-08T10:00:00"})
	if resp.StatusCode != http.StatusNotFound || decode[ErrorResponse](t, body).Error != "not_found" {
		t.Fatalf("reschedule missing: status=%d body=%s", resp.StatusCode, body)
	}
}

func TestBookErrorCodes(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name       string
		req        any
		wantStatus int
		wantCode   string
	}{
		{"bad json", "not an object", http.StatusBadRequest, "invalid_request_body"},
		{"bad category", BookAppointmentRequest{PatientID: "P1", Category: "whitening", StartTime: strp("2025-01-06T09:00:00")}, http.StatusBadRequest, "invalid_category"},
		{"bad time", BookAppointmentRequest{PatientID: "P1", Category: "cleaning", StartTime: strp("9am monday")}, http.StatusBadRequest, "invalid_start_time"},
		{"missing start", BookAppointmentRequest{PatientID: "P1", Category: "cleaning"}, http.StatusBadRequest, "missing_start_time"},
		{"missing patient", BookAppointmentRequest{Category: "cleaning", StartTime: strp("2025-01-06T09:00:00")}, http.StatusBadRequest, "invalid_request"},
		{"sunday", BookAppointmentRequest{PatientID: "P1", Category: "cleaning", StartTime: strp("2025-01-05T09:00:00")}, http.StatusUnprocessableEntity, "outside_business_hours"},
		{"past close", BookAppointmentRequest{PatientID: "P1", Category: "cleaning", StartTime: strp("2025-01-06T17:31:00")}, http.StatusUnprocessableEntity, "outside_business_hours"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/appointments", tc.req)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body=%s)", resp.StatusCode, tc.wantStatus, body)
			}
			if got := decode[ErrorResponse](t, body).Error; got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestEmergencyBooking(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/appointments", BookAppointmentRequest{
		PatientID:  "P1",
		Category:   "emergency",
		TargetDate: strp("2025-01-07"),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if got := decode[AppointmentResponse](t, body); got.StartTime != "2025-01-07T08:00:00" {
		t.Fatalf("emergency start = %s, want opening time", got.StartTime)
	}

	// fill the rest of the day
	do(t, http.MethodPost, srv.URL+"/appointments", BookAppointmentRequest{
		PatientID:       "P2",
		Category:        "cleaning",
		StartTime:       strp("2025-01-07T08:30:00"),
		DurationMinutes: 570,
	})

	resp, body = do(t, http.MethodPost, srv.URL+"/appointments", BookAppointmentRequest{
		PatientID:  "P3",
		Category:   "emergency",
		TargetDate: strp("2025-01-07"),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || decode[ErrorResponse](t, body).Error != "no_available_slot" {
		t.Fatalf("full day: status=%d body=%s", resp.StatusCode, body)
	}
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, url := range []string{
		"/slots",
		"/slots?date=2025-01-06&duration=-5",
		"/slots?date=2025-01-06&duration=153722868",
		"/appointments?from=2025-01-06T00:00:00",
		"/appointments?from=2025-01-07T00:00:00&to=2025-01-06T00:00:00",
	} {
		resp, body := do(t, http.MethodGet, srv.URL+url, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d body=%s", url, resp.StatusCode, body)
		}
	}
}

type failingService struct{ BookingService }

func (failingService) ListAppointmentsForPatient(ctx context.Context, patientID string) ([]booking.Appointment, error) {
	return nil, errors.Join(booking.ErrStoreFailure, errors.New("connection reset"))
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(NewRouter(RouterConfig{Service: failingService{}, Logger: zerolog.Nop()}))
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/patients/P1/appointments", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || decode[ErrorResponse](t, body).Error != "store_failure" {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "connection reset") {
		t.Fatalf("store error detail leaked to the client: %s", body)
	}
}

func TestHealth(t *testing.T) {
	up := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return errors.New("down") })

	cases := []struct {
		name       string
		required   map[string]Pinger
		optional   map[string]Pinger
		wantStatus int
		want       string
	}{
		{"all up", map[string]Pinger{"postgres": up}, map[string]Pinger{"redis": up}, http.StatusOK, "ok"},
		{"optional down", map[string]Pinger{"postgres": up}, map[string]Pinger{"redis": down}, http.StatusOK, "degraded"},
		{"required down", map[string]Pinger{"postgres": down}, map[string]Pinger{"redis": up}, http.StatusServiceUnavailable, "error"},
		{"memory backend", nil, nil, http.StatusOK, "ok"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler(tc.required, tc.optional, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := decode[ReadinessResponse](t, rec.Body.Bytes()); got.Status != tc.want {
				t.Fatalf("readiness = %q, want %q", got.Status, tc.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	NewHealthHandler(nil, nil, "test", "v1").Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("liveness status = %d", rec.Code)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-01-06T09:00:00", "2025-01-06T09:00:00Z", "2025-01-06T09:00:00-07:00"} {
		got, err := parseTime(in)
		if err != nil {
			t.Fatalf("parseTime(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseTime(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}
