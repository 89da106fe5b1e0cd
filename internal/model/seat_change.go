package model

import "time"

// ChangeKind describes why an event's seat count moved.
type ChangeKind string

const (
	ChangeReserved        ChangeKind = "reserved"
	ChangeReleased        ChangeKind = "released"
	ChangeCapacityChanged ChangeKind = "capacity_changed"
)

// SeatChange is the committed seat state of an event after a mutation.  It
// is what watchers of the event get told about.
type SeatChange struct {
	EventID        string     `json:"event_id"`
	AvailableSeats int        `json:"available_seats"`
	SeatCapacity   int        `json:"seat_capacity"`
	Kind           ChangeKind `json:"kind"`
	Version        int64      `json:"version"`
	Timestamp      time.Time  `json:"timestamp"`
}

// ChangeFromEvent builds a SeatChange from an event's committed state.
func ChangeFromEvent(e Event, kind ChangeKind, at time.Time) SeatChange {
	return SeatChange{
		EventID:        e.ID,
		AvailableSeats: e.AvailableSeats,
		SeatCapacity:   e.SeatCapacity,
		Kind:           kind,
		Version:        e.Version,
		Timestamp:      at,
	}
}
