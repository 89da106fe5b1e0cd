package model

import "time"

// Event is the capacity record of a bookable event.  The allocator is the
// only writer of AvailableSeats; every other component reads it.
//
// Fields:
//  ID             – opaque unique identifier.
//  Title          – display name.
//  StartsAt       – scheduled start; bookings and cancellations close once it passes.
//  SeatCapacity   – total seats, always positive.
//  AvailableSeats – seats not held, 0 <= AvailableSeats <= SeatCapacity.
//  Version        – bumped on every seat mutation so readers can order snapshots.
//  CreatedAt      – creation timestamp.
type Event struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	StartsAt       time.Time `json:"starts_at"`
	SeatCapacity   int       `json:"seat_capacity"`
	AvailableSeats int       `json:"available_seats"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// HeldSeats returns the number of seats currently held.  It follows from
// the conservation rule AvailableSeats + held == SeatCapacity.
func (e Event) HeldSeats() int { return e.SeatCapacity - e.AvailableSeats }

// Started reports whether the event's scheduled time is at or before now.
func (e Event) Started(now time.Time) bool { return !e.StartsAt.After(now) }
