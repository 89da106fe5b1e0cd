// Package queue defines message payloads exchanged over the message broker.
package queue

// ReservationQueue is the durable queue reservation lifecycle events go to.
const ReservationQueue = "reservation.events"

// ReservationEventType tells consumers what happened to a reservation.
type ReservationEventType string

const (
	ReservationReserved ReservationEventType = "reservation.reserved"
	ReservationReleased ReservationEventType = "reservation.released"
)

// ReservationEvent is published after a reservation was committed or
// released.  It carries enough for downstream consumers (confirmation
// mail, analytics) to act without querying the primary database.
type ReservationEvent struct {
	Type           ReservationEventType `json:"type"`
	ReservationID  string               `json:"reservation_id"`
	EventID        string               `json:"event_id"`
	EventTitle     string               `json:"event_title,omitempty"`
	SubjectID      string               `json:"subject_id"`
	ActorID        string               `json:"actor_id,omitempty"`
	AvailableSeats int                  `json:"available_seats"`
	SeatCapacity   int                  `json:"seat_capacity"`
	OccurredAt     string               `json:"occurred_at"`
}
