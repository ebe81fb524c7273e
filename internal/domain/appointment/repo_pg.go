package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an appointment lookup matches no row.
var ErrNotFound = errors.New("appointment not found")

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) UpsertByEventURI(ctx context.Context, appt *Appointment) error {
	query := `
		INSERT INTO appointments (id, account_id, patient_email, event_uri, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (event_uri) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			patient_email = EXCLUDED.patient_email,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		appt.ID, appt.AccountID, appt.PatientEmail, appt.EventURI,
		appt.StartTime, appt.EndTime, appt.Status,
	).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert appointment: %w", err)
	}
	return nil
}

func (r *PGRepository) DeleteExpired(ctx context.Context, accountID string, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM appointments WHERE account_id = $1 AND end_time < $2`,
		accountID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) ListByAccount(ctx context.Context, accountID string) ([]Appointment, error) {
	query := `
		SELECT id, account_id, patient_email, event_uri, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE account_id = $1
		ORDER BY start_time ASC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	appts := []Appointment{}
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.PatientEmail, &a.EventURI,
			&a.StartTime, &a.EndTime, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *PGRepository) List(ctx context.Context, accountID string, limit, offset int) ([]Appointment, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM appointments WHERE account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `
		SELECT id, account_id, patient_email, event_uri, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE account_id = $1
		ORDER BY start_time ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	appts := []Appointment{}
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.PatientEmail, &a.EventURI,
			&a.StartTime, &a.EndTime, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, a)
	}
	return appts, total, rows.Err()
}

func (r *PGRepository) Delete(ctx context.Context, accountID string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM appointments WHERE account_id = $1 AND id = $2`,
		accountID, id,
	)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
