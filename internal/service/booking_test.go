package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/event-booking/internal/allocator"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingNotifier struct {
	mu      sync.Mutex
	changes []model.SeatChange
	err     error
}

func (r *recordingNotifier) Notify(ctx context.Context, c model.SeatChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.changes = append(r.changes, c)
	return r.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.ReservationEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev queue.ReservationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func setup(t *testing.T) (*BookingService, *recordingNotifier, *recordingPublisher, model.Event) {
	t.Helper()
	alloc := allocator.New(repository.NewMemoryStore(), allocator.WithLogger(discard))
	n, p := &recordingNotifier{}, &recordingPublisher{}
	svc := NewBookingService(alloc, n, p, discard)
	ev, err := svc.CreateEvent(context.Background(), allocator.NewEvent{
		Title: "Gopher Night", StartsAt: time.Now().Add(24 * time.Hour), SeatCapacity: 1,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return svc, n, p, ev
}

func TestBookingService_NotifiesAfterCommit(t *testing.T) {
	svc, n, p, ev := setup(t)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, ev.ID, "alice")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Release(ctx, res.Reservation.ID, "alice", false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	svc.Wait()

	if len(n.changes) != 2 {
		t.Fatalf("notified %d changes, want 2", len(n.changes))
	}
	if n.changes[0].Kind != model.ChangeReserved || n.changes[0].AvailableSeats != 0 {
		t.Errorf("first change = %+v", n.changes[0])
	}
	if n.changes[1].Kind != model.ChangeReleased || n.changes[1].AvailableSeats != 1 {
		t.Errorf("second change = %+v", n.changes[1])
	}

	if len(p.events) != 2 {
		t.Fatalf("published %d events, want 2", len(p.events))
	}
	types := map[queue.ReservationEventType]queue.ReservationEvent{}
	for _, e := range p.events {
		types[e.Type] = e
	}
	reserved, ok := types[queue.ReservationReserved]
	if !ok || reserved.EventTitle != "Gopher Night" || reserved.ReservationID != res.Reservation.ID {
		t.Errorf("reserved event = %+v", reserved)
	}
	if _, ok := types[queue.ReservationReleased]; !ok {
		t.Error("release was not published")
	}
}

func TestBookingService_RejectedCallsAreSilent(t *testing.T) {
	svc, n, p, ev := setup(t)
	ctx := context.Background()
	if _, err := svc.Reserve(ctx, ev.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Reserve(ctx, ev.ID, "bob")
	if !errors.Is(err, allocator.ErrSeatsExhausted) {
		t.Fatalf("err = %v", err)
	}
	_, err = svc.SetCapacity(ctx, ev.ID, 5, "bob", false)
	if !errors.Is(err, allocator.ErrNotAuthorized) {
		t.Fatalf("err = %v", err)
	}
	svc.Wait()
	if len(n.changes) != 1 || len(p.events) != 1 {
		t.Errorf("changes=%d events=%d, want 1 and 1", len(n.changes), len(p.events))
	}
}

func TestBookingService_NotificationFailureKeepsOutcome(t *testing.T) {
	svc, n, p, ev := setup(t)
	n.err = errors.New("hub gone")
	p.err = errors.New("broker gone")

	res, err := svc.Reserve(context.Background(), ev.ID, "alice")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	svc.Wait()
	if res.Change.AvailableSeats != 0 {
		t.Errorf("change = %+v", res.Change)
	}
	got, _ := svc.Event(context.Background(), ev.ID)
	if got.AvailableSeats != 0 {
		t.Error("seat should stay reserved when notification fails")
	}
}

func TestBookingService_CancelledRequestStillNotifies(t *testing.T) {
	svc, n, _, ev := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel between commit and notification: the notifier gets a
	// context of its own.
	svc.notifier = notifierFunc(func(c context.Context, change model.SeatChange) error {
		return n.Notify(c, change)
	})
	res, err := svc.alloc.Reserve(ctx, ev.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	svc.notify(ctx, res.Change)

	if len(n.changes) != 1 {
		t.Fatalf("notified %d changes after cancel, want 1", len(n.changes))
	}
}

func TestBookingService_CapacityChangeNotifies(t *testing.T) {
	svc, n, p, ev := setup(t)
	change, err := svc.SetCapacity(context.Background(), ev.ID, 4, "root", true)
	if err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	svc.Wait()
	if change.AvailableSeats != 4 || len(n.changes) != 1 || n.changes[0].Kind != model.ChangeCapacityChanged {
		t.Errorf("change=%+v notified=%+v", change, n.changes)
	}
	if len(p.events) != 0 {
		t.Error("capacity changes are not reservation events")
	}
}

type notifierFunc func(context.Context, model.SeatChange) error

func (f notifierFunc) Notify(ctx context.Context, c model.SeatChange) error { return f(ctx, c) }

func TestBookingService_NotifyTimeoutOption(t *testing.T) {
	alloc := allocator.New(repository.NewMemoryStore(), allocator.WithLogger(discard))
	var left time.Duration
	n := notifierFunc(func(ctx context.Context, _ model.SeatChange) error {
		if d, ok := ctx.Deadline(); ok {
			left = time.Until(d)
		}
		return nil
	})
	svc := NewBookingService(alloc, n, nil, discard, WithNotifyTimeout(time.Minute))
	ev, err := svc.CreateEvent(context.Background(), allocator.NewEvent{
		Title: "Late Show", StartsAt: time.Now().Add(time.Hour), SeatCapacity: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reserve(context.Background(), ev.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if left <= defaultNotifyTimeout || left > time.Minute {
		t.Errorf("notify deadline %v away, want just under 1m", left)
	}
}
