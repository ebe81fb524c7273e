package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is the local mirror of one upstream scheduled event.
// EventURI is the provider's canonical event identifier and the upsert
// key: exactly one row per event URI.
type Appointment struct {
	ID           uuid.UUID `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	PatientEmail string    `db:"patient_email" json:"patient_email"`
	EventURI     string    `db:"event_uri" json:"event_uri"`
	StartTime    time.Time `db:"start_time" json:"start_time"`
	EndTime      time.Time `db:"end_time" json:"end_time"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SyncResult summarizes one synchronization pass. Appointments is the
// post-pass snapshot for the account, ordered by start time ascending.
type SyncResult struct {
	Appointments []Appointment `json:"appointments"`
	Upserted     int           `json:"upserted"`
	Skipped      int           `json:"skipped"`
	Purged       int64         `json:"purged"`
}
