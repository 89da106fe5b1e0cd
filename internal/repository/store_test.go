package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/event-booking/internal/database"
	"github.com/iliyamo/event-booking/internal/model"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewSQLStore(db, SQLite)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	return NewMemoryStore()
}

var stores = map[string]func(t *testing.T) Store{
	"sqlite": newSQLiteStore,
	"memory": newMemoryStore,
}

func seedEvent(t *testing.T, s Store, id string, capacity int) model.Event {
	t.Helper()
	now := time.Now().UTC()
	ev := model.Event{
		ID:             id,
		Title:          "Event " + id,
		StartsAt:       now.Add(24 * time.Hour),
		SeatCapacity:   capacity,
		AvailableSeats: capacity,
		CreatedAt:      now,
	}
	if err := s.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func held(id, eventID, subjectID string) model.Reservation {
	return model.Reservation{
		ID:        id,
		EventID:   eventID,
		SubjectID: subjectID,
		Status:    model.StatusHeld,
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_WithEventLockUnknownEvent(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			err := s.WithEventLock(context.Background(), "missing", func(EventTx) error {
				t.Fatal("fn must not run for a missing event")
				return nil
			})
			if !errors.Is(err, ErrEventNotFound) {
				t.Fatalf("got %v, want ErrEventNotFound", err)
			}
		})
	}
}

func TestStore_CommitAppliesAllWrites(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seedEvent(t, s, "e1", 3)

			err := s.WithEventLock(ctx, "e1", func(tx EventTx) error {
				if err := tx.InsertReservation(ctx, held("r1", "e1", "alice")); err != nil {
					return err
				}
				ev, err := tx.SetSeats(ctx, 3, 2)
				if err != nil {
					return err
				}
				if ev.Version != 1 {
					t.Errorf("version = %d, want 1", ev.Version)
				}
				return tx.AppendAudit(ctx, model.AuditEntry{
					Action: model.AuditReserved, EventID: "e1", SubjectID: "alice",
					ReservationID: "r1", AvailableSeats: 2, SeatCapacity: 3, CreatedAt: time.Now(),
				})
			})
			if err != nil {
				t.Fatalf("WithEventLock: %v", err)
			}

			ev, err := s.GetEvent(ctx, "e1")
			if err != nil {
				t.Fatalf("GetEvent: %v", err)
			}
			if ev.AvailableSeats != 2 || ev.Version != 1 {
				t.Errorf("event = %+v, want 2 available at version 1", ev)
			}
			eventID, err := s.ReservationEventID(ctx, "r1")
			if err != nil || eventID != "e1" {
				t.Errorf("ReservationEventID = %q, %v", eventID, err)
			}
			audit, err := s.AuditByEvent(ctx, "e1")
			if err != nil {
				t.Fatalf("AuditByEvent: %v", err)
			}
			if len(audit) != 1 || audit[0].ReservationID != "r1" || audit[0].AvailableSeats != 2 {
				t.Errorf("audit = %+v", audit)
			}
		})
	}
}

func TestStore_ErrorRollsBackEverything(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seedEvent(t, s, "e1", 3)
			boom := errors.New("boom")

			err := s.WithEventLock(ctx, "e1", func(tx EventTx) error {
				if err := tx.InsertReservation(ctx, held("r1", "e1", "alice")); err != nil {
					return err
				}
				if _, err := tx.SetSeats(ctx, 3, 2); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("got %v, want boom", err)
			}

			ev, _ := s.GetEvent(ctx, "e1")
			if ev.AvailableSeats != 3 || ev.Version != 0 {
				t.Errorf("event changed after rollback: %+v", ev)
			}
			if _, err := s.ReservationEventID(ctx, "r1"); !errors.Is(err, ErrReservationNotFound) {
				t.Errorf("orphan reservation after rollback: %v", err)
			}
		})
	}
}

func TestStore_EnforcesOneHeldPerSubject(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seedEvent(t, s, "e1", 5)

			insert := func(id string) error {
				return s.WithEventLock(ctx, "e1", func(tx EventTx) error {
					return tx.InsertReservation(ctx, held(id, "e1", "alice"))
				})
			}
			if err := insert("r1"); err != nil {
				t.Fatalf("first insert: %v", err)
			}
			if err := insert("r2"); !errors.Is(err, ErrDuplicateHeld) {
				t.Fatalf("second insert: got %v, want ErrDuplicateHeld", err)
			}

			err := s.WithEventLock(ctx, "e1", func(tx EventTx) error {
				return tx.MarkReleased(ctx, "r1", time.Now())
			})
			if err != nil {
				t.Fatalf("release: %v", err)
			}
			if err := insert("r3"); err != nil {
				t.Fatalf("insert after release: %v", err)
			}
		})
	}
}

func TestStore_HasHeldAndCountHeld(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seedEvent(t, s, "e1", 5)
			seedEvent(t, s, "e2", 5)

			err := s.WithEventLock(ctx, "e1", func(tx EventTx) error {
				if err := tx.InsertReservation(ctx, held("r1", "e1", "alice")); err != nil {
					return err
				}
				return tx.InsertReservation(ctx, held("r2", "e1", "bob"))
			})
			if err != nil {
				t.Fatalf("seed reservations: %v", err)
			}

			_ = s.WithEventLock(ctx, "e1", func(tx EventTx) error {
				if ok, _ := tx.HasHeld(ctx, "alice"); !ok {
					t.Error("alice should hold a seat on e1")
				}
				if ok, _ := tx.HasHeld(ctx, "carol"); ok {
					t.Error("carol holds nothing")
				}
				if n, _ := tx.CountHeld(ctx); n != 2 {
					t.Errorf("CountHeld = %d, want 2", n)
				}
				return nil
			})
			_ = s.WithEventLock(ctx, "e2", func(tx EventTx) error {
				if ok, _ := tx.HasHeld(ctx, "alice"); ok {
					t.Error("holds on e1 must not leak into e2")
				}
				if n, _ := tx.CountHeld(ctx); n != 0 {
					t.Errorf("CountHeld(e2) = %d, want 0", n)
				}
				return nil
			})
		})
	}
}

func TestStore_MarkReleasedRequiresHeld(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			seedEvent(t, s, "e1", 1)
			_ = s.WithEventLock(ctx, "e1", func(tx EventTx) error {
				return tx.InsertReservation(ctx, held("r1", "e1", "alice"))
			})
			release := func() error {
				return s.WithEventLock(ctx, "e1", func(tx EventTx) error {
					return tx.MarkReleased(ctx, "r1", time.Now())
				})
			}
			if err := release(); err != nil {
				t.Fatalf("first release: %v", err)
			}
			if err := release(); !errors.Is(err, ErrReservationNotFound) {
				t.Fatalf("second release: got %v, want ErrReservationNotFound", err)
			}

			list, err := s.ReservationsBySubject(ctx, "alice")
			if err != nil {
				t.Fatalf("ReservationsBySubject: %v", err)
			}
			if len(list) != 1 || list[0].Status != model.StatusReleased || list[0].ReleasedAt == nil {
				t.Errorf("reservations = %+v", list)
			}
		})
	}
}

func TestStore_ListEventsOrderedByStart(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			now := time.Now().UTC()
			for i, id := range []string{"late", "early"} {
				ev := model.Event{
					ID: id, Title: id, SeatCapacity: 1, AvailableSeats: 1, CreatedAt: now,
					StartsAt: now.Add(time.Duration(2-i) * time.Hour),
				}
				if err := s.CreateEvent(ctx, ev); err != nil {
					t.Fatalf("create %s: %v", id, err)
				}
			}
			events, err := s.ListEvents(ctx)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			if len(events) != 2 || events[0].ID != "early" || events[1].ID != "late" {
				t.Errorf("events = %+v", events)
			}
		})
	}
}

func TestMemoryStore_LockWaitHonoursContext(t *testing.T) {
	s := NewMemoryStore()
	seedEvent(t, s, "e1", 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithEventLock(context.Background(), "e1", func(EventTx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithEventLock(ctx, "e1", func(EventTx) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("got %v, want ErrLockTimeout", err)
	}

	// A different event is not blocked by the held lock.
	seedEvent(t, s, "e2", 1)
	if err := s.WithEventLock(context.Background(), "e2", func(EventTx) error { return nil }); err != nil {
		t.Fatalf("e2 lock: %v", err)
	}

	close(release)
	wg.Wait()
}
