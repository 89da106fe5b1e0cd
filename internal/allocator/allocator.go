// Package allocator owns the seat count of every event.  It is the only
// component that mutates AvailableSeats, and it does so only inside a
// store unit of work that holds the event's row lock, so concurrent
// bookings for one event are linearized while different events proceed in
// parallel.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
)

// DefaultLockTimeout bounds how long one call may wait for an event lock.
const DefaultLockTimeout = 5 * time.Second

// Allocator reserves and releases seats.  It never retries and never
// notifies anyone; the committed SeatChange is returned to the caller to
// publish.
type Allocator struct {
	store       repository.Store
	now         func() time.Time
	newID       func() string
	lockTimeout time.Duration
	log         *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock replaces time.Now, for tests that need events in the past.
func WithClock(now func() time.Time) Option { return func(a *Allocator) { a.now = now } }

// WithLockTimeout sets how long a call waits for the event lock.  Zero
// leaves the wait bounded only by the caller's context.
func WithLockTimeout(d time.Duration) Option { return func(a *Allocator) { a.lockTimeout = d } }

// WithLogger sets the logger used for outcome logging.
func WithLogger(l *slog.Logger) Option { return func(a *Allocator) { a.log = l } }

// New returns an Allocator over store.
func New(store repository.Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		now:         time.Now,
		newID:       uuid.NewString,
		lockTimeout: DefaultLockTimeout,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the outcome of a successful reserve or release.
type Result struct {
	Reservation model.Reservation
	Change      model.SeatChange
}

// NewEvent describes an event to create.
type NewEvent struct {
	Title        string
	StartsAt     time.Time
	SeatCapacity int
}

// Reserve takes one seat of eventID for subjectID.  Checks run under the
// event lock in this order: the event exists, it has not started, the
// subject holds no seat for it yet, a seat is left.  The reservation, the
// decrement and the audit entry commit together or not at all.
func (a *Allocator) Reserve(ctx context.Context, eventID, subjectID string) (Result, error) {
	if subjectID == "" {
		return Result{}, ErrNotAuthorized
	}
	if eventID == "" {
		return Result{}, ErrEventNotFound
	}
	ctx, cancel := a.lockContext(ctx)
	defer cancel()

	var res Result
	err := a.store.WithEventLock(ctx, eventID, func(tx repository.EventTx) error {
		now := a.now().UTC()
		ev := tx.Event()
		if ev.Started(now) {
			return ErrEventInPast
		}
		held, err := tx.HasHeld(ctx, subjectID)
		if err != nil {
			return err
		}
		if held {
			return ErrDuplicateReservation
		}
		if ev.AvailableSeats <= 0 {
			return ErrSeatsExhausted
		}

		r := model.Reservation{
			ID:        a.newID(),
			EventID:   ev.ID,
			SubjectID: subjectID,
			Status:    model.StatusHeld,
			CreatedAt: now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		ev, err = tx.SetSeats(ctx, ev.SeatCapacity, ev.AvailableSeats-1)
		if err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditFor(model.AuditReserved, ev, subjectID, r.ID, now)); err != nil {
			return err
		}
		res = Result{Reservation: r, Change: model.ChangeFromEvent(ev, model.ChangeReserved, now)}
		return nil
	})
	if err != nil {
		err = a.translate(err)
		a.logRejected("reserve", err, slog.String("event_id", eventID), slog.String("subject_id", subjectID))
		return Result{}, err
	}
	a.log.Info("seat reserved",
		slog.String("event_id", eventID),
		slog.String("subject_id", subjectID),
		slog.String("reservation_id", res.Reservation.ID),
		slog.Int("available_seats", res.Change.AvailableSeats))
	return res, nil
}

// Release gives a held seat back.  The requester must own the reservation
// or be an admin; the reservation must still be held and its event must
// not have started.
func (a *Allocator) Release(ctx context.Context, reservationID, requesterID string, requesterIsAdmin bool) (Result, error) {
	id, ok := normalizeReservationID(reservationID)
	if !ok {
		return Result{}, ErrReservationNotFound
	}
	ctx, cancel := a.lockContext(ctx)
	defer cancel()

	eventID, err := a.store.ReservationEventID(ctx, id)
	if err != nil {
		err = a.translate(err)
		a.logRejected("release", err, slog.String("reservation_id", id))
		return Result{}, err
	}

	var res Result
	err = a.store.WithEventLock(ctx, eventID, func(tx repository.EventTx) error {
		now := a.now().UTC()
		ev := tx.Event()
		r, err := tx.Reservation(ctx, id)
		if err != nil {
			return err
		}
		if r.EventID != ev.ID {
			return ErrReservationNotFound
		}
		if !requesterIsAdmin && r.SubjectID != requesterID {
			return ErrNotAuthorized
		}
		if !r.Held() {
			return ErrAlreadyReleased
		}
		if ev.Started(now) {
			return ErrEventAlreadyOccurred
		}
		if ev.AvailableSeats+1 > ev.SeatCapacity {
			return ErrInvariantViolation
		}

		if err := tx.MarkReleased(ctx, r.ID, now); err != nil {
			return err
		}
		r.Status = model.StatusReleased
		r.ReleasedAt = &now
		ev, err = tx.SetSeats(ctx, ev.SeatCapacity, ev.AvailableSeats+1)
		if err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditFor(model.AuditReleased, ev, requesterID, r.ID, now)); err != nil {
			return err
		}
		res = Result{Reservation: r, Change: model.ChangeFromEvent(ev, model.ChangeReleased, now)}
		return nil
	})
	if err != nil {
		err = a.translate(err)
		a.logRejected("release", err, slog.String("reservation_id", id), slog.String("requester_id", requesterID))
		return Result{}, err
	}
	a.log.Info("seat released",
		slog.String("event_id", eventID),
		slog.String("reservation_id", id),
		slog.String("requester_id", requesterID),
		slog.Int("available_seats", res.Change.AvailableSeats))
	return res, nil
}

// SetCapacity changes an event's seat capacity.  The held count is kept,
// so available seats move by the same amount as the capacity; shrinking
// below the held count is refused.
func (a *Allocator) SetCapacity(ctx context.Context, eventID string, capacity int, requesterID string, requesterIsAdmin bool) (model.SeatChange, error) {
	if !requesterIsAdmin {
		return model.SeatChange{}, ErrNotAuthorized
	}
	if capacity <= 0 {
		return model.SeatChange{}, ErrInvalidCapacity
	}
	ctx, cancel := a.lockContext(ctx)
	defer cancel()

	var change model.SeatChange
	err := a.store.WithEventLock(ctx, eventID, func(tx repository.EventTx) error {
		now := a.now().UTC()
		ev := tx.Event()
		held, err := tx.CountHeld(ctx)
		if err != nil {
			return err
		}
		if held != ev.HeldSeats() {
			return fmt.Errorf("%w: %d held reservations, %d seats taken", ErrInvariantViolation, held, ev.HeldSeats())
		}
		if capacity < held {
			return ErrCapacityReductionBelowHeld
		}
		ev, err = tx.SetSeats(ctx, capacity, capacity-held)
		if err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditFor(model.AuditCapacityChanged, ev, requesterID, "", now)); err != nil {
			return err
		}
		change = model.ChangeFromEvent(ev, model.ChangeCapacityChanged, now)
		return nil
	})
	if err != nil {
		err = a.translate(err)
		a.logRejected("set capacity", err, slog.String("event_id", eventID), slog.Int("capacity", capacity))
		return model.SeatChange{}, err
	}
	a.log.Info("capacity changed",
		slog.String("event_id", eventID),
		slog.Int("seat_capacity", change.SeatCapacity),
		slog.Int("available_seats", change.AvailableSeats))
	return change, nil
}

// CreateEvent stores a new event with every seat available.
func (a *Allocator) CreateEvent(ctx context.Context, in NewEvent) (model.Event, error) {
	if in.SeatCapacity <= 0 {
		return model.Event{}, ErrInvalidCapacity
	}
	if strings.TrimSpace(in.Title) == "" || in.StartsAt.IsZero() {
		return model.Event{}, ErrInvalidEvent
	}
	ev := model.Event{
		ID:             a.newID(),
		Title:          strings.TrimSpace(in.Title),
		StartsAt:       in.StartsAt.UTC(),
		SeatCapacity:   in.SeatCapacity,
		AvailableSeats: in.SeatCapacity,
		CreatedAt:      a.now().UTC(),
	}
	if err := a.store.CreateEvent(ctx, ev); err != nil {
		return model.Event{}, a.translate(err)
	}
	a.log.Info("event created", slog.String("event_id", ev.ID), slog.Int("seat_capacity", ev.SeatCapacity))
	return ev, nil
}

// Event returns the committed state of an event without locking it.
func (a *Allocator) Event(ctx context.Context, eventID string) (model.Event, error) {
	ev, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return model.Event{}, a.translate(err)
	}
	return ev, nil
}

// Events lists all events.
func (a *Allocator) Events(ctx context.Context) ([]model.Event, error) {
	events, err := a.store.ListEvents(ctx)
	if err != nil {
		return nil, a.translate(err)
	}
	return events, nil
}

// Reservations lists a subject's reservations, newest first.
func (a *Allocator) Reservations(ctx context.Context, subjectID string) ([]model.Reservation, error) {
	list, err := a.store.ReservationsBySubject(ctx, subjectID)
	if err != nil {
		return nil, a.translate(err)
	}
	return list, nil
}

// Audit returns the audit trail of an event.
func (a *Allocator) Audit(ctx context.Context, eventID string) ([]model.AuditEntry, error) {
	if _, err := a.store.GetEvent(ctx, eventID); err != nil {
		return nil, a.translate(err)
	}
	entries, err := a.store.AuditByEvent(ctx, eventID)
	if err != nil {
		return nil, a.translate(err)
	}
	return entries, nil
}

func (a *Allocator) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.lockTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.lockTimeout)
}

// translate maps store errors onto allocator codes.  Errors that already
// carry a code pass through unchanged.
func (a *Allocator) translate(err error) error {
	if _, ok := CodeOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		return ErrEventNotFound
	case errors.Is(err, repository.ErrReservationNotFound):
		return ErrReservationNotFound
	case errors.Is(err, repository.ErrDuplicateHeld):
		return ErrDuplicateReservation
	case errors.Is(err, repository.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return unavailable(err)
	}
	return fmt.Errorf("allocator: %w", err)
}

func (a *Allocator) logRejected(op string, err error, attrs ...slog.Attr) {
	code, ok := CodeOf(err)
	if !ok {
		a.log.LogAttrs(context.Background(), slog.LevelError, op+" failed", append(attrs, slog.Any("error", err))...)
		return
	}
	level := slog.LevelInfo
	if code == CodeAllocatorUnavailable || code == CodeInvariantViolation {
		level = slog.LevelWarn
	}
	a.log.LogAttrs(context.Background(), level, op+" rejected", append(attrs, slog.String("code", string(code)))...)
}

func auditFor(action model.AuditAction, ev model.Event, subjectID, reservationID string, at time.Time) model.AuditEntry {
	return model.AuditEntry{
		Action:         action,
		EventID:        ev.ID,
		SubjectID:      subjectID,
		ReservationID:  reservationID,
		AvailableSeats: ev.AvailableSeats,
		SeatCapacity:   ev.SeatCapacity,
		CreatedAt:      at,
	}
}

// normalizeReservationID canonicalizes a reservation id so lookups ignore
// case and surrounding whitespace.
func normalizeReservationID(raw string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
