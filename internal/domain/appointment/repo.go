package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for appointments.
type Repository interface {
	// UpsertByEventURI inserts the appointment or, when a row for its
	// event URI already exists, overwrites that row in place. One
	// atomic statement, no read-then-write.
	UpsertByEventURI(ctx context.Context, appt *Appointment) error

	// DeleteExpired removes every appointment for the account whose end
	// time is strictly before now, and returns how many were removed.
	DeleteExpired(ctx context.Context, accountID string, now time.Time) (int64, error)

	// ListByAccount returns all of the account's appointments ordered
	// by start time ascending.
	ListByAccount(ctx context.Context, accountID string) ([]Appointment, error)

	// List returns a page of the account's appointments ordered by
	// start time ascending, plus the total row count.
	List(ctx context.Context, accountID string, limit, offset int) ([]Appointment, int, error)

	// Delete removes one appointment by ID, scoped to the account.
	Delete(ctx context.Context, accountID string, id uuid.UUID) error
}
