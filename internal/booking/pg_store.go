package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore serializes writers per resource with a transaction-scoped advisory
// lock. The appointments_no_overlap exclusion constraint backs it up if a
// writer ever bypasses the lock.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Serialize(ctx context.Context, resource ResourceID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(resource)); err != nil {
		return fmt.Errorf("acquire resource lock: %w", err)
	}

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PgStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) RecordEvent(ctx context.Context, ev Event) error {
	var apptID *string
	if ev.AppointmentID != "" {
		apptID = &ev.AppointmentID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, apptID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// isOverlapViolation reports whether err came from the exclusion constraint.
func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func writeErr(op string, err error) error {
	if isOverlapViolation(err) {
		return fmt.Errorf("%s: rejected by appointments_no_overlap: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type pgTx struct {
	q queryable
}

const appointmentCols = `id, resource_id, patient_id, category, start_time, end_time,
	target_date, status, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                          Appointment
		resource, category, status string
	)

	err := row.Scan(
		&a.ID,
		&resource,
		&a.PatientID,
		&category,
		&a.StartTime,
		&a.EndTime,
		&a.TargetDate,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Resource = ResourceID(resource)
	if a.Category, err = ParseCategory(category); err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	if a.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *pgTx) FindByID(ctx context.Context, id string) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) FindByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (t *pgTx) FindInRange(ctx context.Context, from, to time.Time, date *time.Time) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND start_time >= $1
		  AND start_time < $2
		  AND ($3::date IS NULL OR target_date = $3::date)
		ORDER BY start_time, id
	`, from, to, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (t *pgTx) HasConflict(ctx context.Context, resource ResourceID, start, end time.Time, excludeID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE resource_id = $1
			  AND status = 'scheduled'
			  AND start_time < $3
			  AND end_time > $2
			  AND ($4::text = '' OR id <> $4::text)
		)
	`, string(resource), start, end, excludeID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) Insert(ctx context.Context, na NewAppointment) (*Appointment, error) {
	id := uuid.NewString()

	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, resource_id, patient_id, category, start_time, end_time,
			target_date, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', $8, now(), now())
		RETURNING `+appointmentCols,
		id, string(na.Resource), na.PatientID, string(na.Category), na.StartTime, na.EndTime, na.TargetDate, na.Notes)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, writeErr("insert appointment", err)
	}
	return a, nil
}

func (t *pgTx) Save(ctx context.Context, a *Appointment) error {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    target_date = $4,
		    status = $5,
		    notes = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentCols,
		a.ID, a.StartTime, a.EndTime, a.TargetDate, string(a.Status), a.Notes)

	saved, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return writeErr("update appointment", err)
	}
	*a = *saved
	return nil
}

func (t *pgTx) FindEndedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND end_time <= $1
		ORDER BY end_time, id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
