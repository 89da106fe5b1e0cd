package model

import "time"

// AuditAction names the seat mutation an audit entry records.
type AuditAction string

const (
	AuditReserved        AuditAction = "reserved"
	AuditReleased        AuditAction = "released"
	AuditCapacityChanged AuditAction = "capacity_changed"
)

// AuditEntry is an append-only trace of one successful seat mutation.  The
// allocator writes it in the same unit of work as the mutation and never
// reads it back to make decisions.
type AuditEntry struct {
	ID             int64       `json:"id"`
	Action         AuditAction `json:"action"`
	EventID        string      `json:"event_id"`
	SubjectID      string      `json:"subject_id"`
	ReservationID  string      `json:"reservation_id,omitempty"`
	AvailableSeats int         `json:"available_seats"`
	SeatCapacity   int         `json:"seat_capacity"`
	CreatedAt      time.Time   `json:"created_at"`
}
