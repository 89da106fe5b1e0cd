package repository

import (
	"context"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// Store is the persistent store behind the seat allocator.  Implementations
// must run WithEventLock as one atomic, isolated unit of work holding an
// exclusive lock scoped to the single event row.
type Store interface {
	// WithEventLock locks the event row, runs fn and commits when fn
	// returns nil.  Any error from fn, or from the commit, rolls every
	// write back.  ErrEventNotFound is returned when the event does not
	// exist.
	WithEventLock(ctx context.Context, eventID string, fn func(tx EventTx) error) error

	// ReservationEventID returns the event a reservation belongs to
	// without taking any lock.
	ReservationEventID(ctx context.Context, reservationID string) (string, error)

	CreateEvent(ctx context.Context, e model.Event) error
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	ReservationsBySubject(ctx context.Context, subjectID string) ([]model.Reservation, error)
	AuditByEvent(ctx context.Context, eventID string) ([]model.AuditEntry, error)
}

// EventTx is the view of the store inside WithEventLock.  All reads see the
// latest committed state plus the writes made earlier in the same unit.
type EventTx interface {
	// Event returns the locked event row as it stands in this unit.
	Event() model.Event
	// HasHeld reports whether subjectID holds a HELD reservation for the
	// locked event.
	HasHeld(ctx context.Context, subjectID string) (bool, error)
	// Reservation loads a reservation by id.
	Reservation(ctx context.Context, reservationID string) (model.Reservation, error)
	// InsertReservation stores a new reservation for the locked event.
	InsertReservation(ctx context.Context, r model.Reservation) error
	// MarkReleased moves a reservation to RELEASED.
	MarkReleased(ctx context.Context, reservationID string, at time.Time) error
	// SetSeats writes capacity and available seats, bumps the version and
	// returns the event as it now stands.
	SetSeats(ctx context.Context, capacity, available int) (model.Event, error)
	// CountHeld counts HELD reservations of the locked event.
	CountHeld(ctx context.Context) (int, error)
	// AppendAudit appends an audit entry.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}
