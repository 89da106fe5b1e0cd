package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	// StatusHeld marks a reservation that occupies a seat.
	StatusHeld ReservationStatus = "HELD"
	// StatusReleased marks a reservation whose seat was given back.
	StatusReleased ReservationStatus = "RELEASED"
)

// Reservation records one subject holding one seat for one event.
// Reservations are never deleted; a released reservation stays as history.
//
// Fields:
//  ID         – lower-case UUID, stable for the reservation's lifetime.
//  EventID    – event the seat belongs to.
//  SubjectID  – booking party.
//  Status     – HELD or RELEASED.
//  CreatedAt  – creation timestamp.
//  ReleasedAt – release timestamp, nil while held.
type Reservation struct {
	ID         string            `json:"id"`
	EventID    string            `json:"event_id"`
	SubjectID  string            `json:"subject_id"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ReleasedAt *time.Time        `json:"released_at,omitempty"`
}

// Held reports whether the reservation still occupies a seat.
func (r Reservation) Held() bool { return r.Status == StatusHeld }
