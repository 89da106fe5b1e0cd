// Package repository defines the persistence layer for events,
// reservations and the seat audit trail.  The sentinel values below let
// the allocator distinguish store outcomes without inspecting driver
// errors.  ErrDuplicateHeld, ErrDuplicateKey and ErrLockTimeout are produced from
// driver-specific errors by the dialect in use.
package repository

import "errors"

// ErrEventNotFound is returned when no event row matches the requested id.
var ErrEventNotFound = errors.New("event not found")

// ErrReservationNotFound is returned when no reservation matches the id.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrDuplicateHeld is returned when inserting a HELD reservation would give
// a subject a second held seat for the same event.  The store enforces this
// independently of any check the caller makes first.
var ErrDuplicateHeld = errors.New("subject already holds a reservation for this event")

// ErrDuplicateKey is returned when an insert collides on any other unique
// key, such as an event id that already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrLockTimeout is returned when the event lock could not be acquired in
// time, or the store aborted the unit of work because of a deadlock.
// Nothing is written when it is returned, so callers may retry.
var ErrLockTimeout = errors.New("event lock not acquired")
