package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/event-booking/internal/allocator"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/notify"
	"github.com/iliyamo/event-booking/internal/queue"
)

// EventPublisher sends reservation lifecycle events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

const (
	defaultNotifyTimeout = 15 * time.Second
	publishTimeout       = 5 * time.Second
)

// BookingService runs allocator mutations and, once they have committed,
// tells live watchers and the broker.  Neither side effect can change the
// outcome returned to the caller.
type BookingService struct {
	alloc     *allocator.Allocator
	notifier  notify.Notifier
	publisher EventPublisher
	log       *slog.Logger

	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// Option configures a BookingService.
type Option func(*BookingService)

// WithNotifyTimeout bounds one notification.  It should outlast the hub's
// write timeout, otherwise a stalled watcher is abandoned with the
// notification instead of being dropped.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *BookingService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewBookingService wires alloc to its collaborators.  publisher may be
// nil when no broker is configured.
func NewBookingService(alloc *allocator.Allocator, notifier notify.Notifier, publisher EventPublisher, log *slog.Logger, opts ...Option) *BookingService {
	s := &BookingService{
		alloc:         alloc,
		notifier:      notifier,
		publisher:     publisher,
		log:           log,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reserve books a seat for subjectID.
func (s *BookingService) Reserve(ctx context.Context, eventID, subjectID string) (allocator.Result, error) {
	res, err := s.alloc.Reserve(ctx, eventID, subjectID)
	if err != nil {
		return res, err
	}
	s.notify(ctx, res.Change)
	s.publish(queue.ReservationReserved, res, subjectID)
	return res, nil
}

// Release gives a held seat back on behalf of requesterID.
func (s *BookingService) Release(ctx context.Context, reservationID, requesterID string, isAdmin bool) (allocator.Result, error) {
	res, err := s.alloc.Release(ctx, reservationID, requesterID, isAdmin)
	if err != nil {
		return res, err
	}
	s.notify(ctx, res.Change)
	s.publish(queue.ReservationReleased, res, requesterID)
	return res, nil
}

// SetCapacity resizes an event.
func (s *BookingService) SetCapacity(ctx context.Context, eventID string, capacity int, requesterID string, isAdmin bool) (model.SeatChange, error) {
	change, err := s.alloc.SetCapacity(ctx, eventID, capacity, requesterID, isAdmin)
	if err != nil {
		return change, err
	}
	s.notify(ctx, change)
	return change, nil
}

// CreateEvent adds an event.  Nobody can be watching it yet, so there is
// nothing to notify.
func (s *BookingService) CreateEvent(ctx context.Context, in allocator.NewEvent) (model.Event, error) {
	return s.alloc.CreateEvent(ctx, in)
}

func (s *BookingService) Event(ctx context.Context, eventID string) (model.Event, error) {
	return s.alloc.Event(ctx, eventID)
}

func (s *BookingService) Events(ctx context.Context) ([]model.Event, error) {
	return s.alloc.Events(ctx)
}

func (s *BookingService) Reservations(ctx context.Context, subjectID string) ([]model.Reservation, error) {
	return s.alloc.Reservations(ctx, subjectID)
}

func (s *BookingService) Audit(ctx context.Context, eventID string) ([]model.AuditEntry, error) {
	return s.alloc.Audit(ctx, eventID)
}

// Wait blocks until background publishes have finished.
func (s *BookingService) Wait() { s.pending.Wait() }

// notify runs after the commit.  The request context may already be
// cancelled by then; the change happened regardless, so watchers are told
// with a context of their own.
func (s *BookingService) notify(ctx context.Context, change model.SeatChange) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, change); err != nil {
		s.log.Warn("seat change notification failed",
			slog.String("event_id", change.EventID),
			slog.Int64("version", change.Version),
			slog.Any("error", err))
	}
}

func (s *BookingService) publish(typ queue.ReservationEventType, res allocator.Result, actorID string) {
	if s.publisher == nil {
		return
	}
	ev := queue.ReservationEvent{
		Type:           typ,
		ReservationID:  res.Reservation.ID,
		EventID:        res.Reservation.EventID,
		SubjectID:      res.Reservation.SubjectID,
		ActorID:        actorID,
		AvailableSeats: res.Change.AvailableSeats,
		SeatCapacity:   res.Change.SeatCapacity,
		OccurredAt:     res.Change.Timestamp.UTC().Format(time.RFC3339),
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if e, err := s.alloc.Event(ctx, ev.EventID); err == nil {
			ev.EventTitle = e.Title
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.Warn("reservation event not published",
				slog.String("type", string(typ)),
				slog.String("reservation_id", ev.ReservationID),
				slog.Any("error", err))
		}
	}()
}
