package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// MemoryStore is an in-process Store.  Each event has its own lock, a one
// slot channel so that waiting for it can be abandoned when the context
// ends.  Writes made inside WithEventLock are staged on the transaction and
// applied under the store mutex only when fn succeeds.
type MemoryStore struct {
	mu           sync.RWMutex
	events       map[string]model.Event
	locks        map[string]chan struct{}
	reservations map[string]model.Reservation
	held         map[heldKey]string
	audit        map[string][]model.AuditEntry
	nextAuditID  int64
}

type heldKey struct {
	eventID   string
	subjectID string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:       make(map[string]model.Event),
		locks:        make(map[string]chan struct{}),
		reservations: make(map[string]model.Reservation),
		held:         make(map[heldKey]string),
		audit:        make(map[string][]model.AuditEntry),
	}
}

func (s *MemoryStore) WithEventLock(ctx context.Context, eventID string, fn func(tx EventTx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[eventID]
	s.mu.RUnlock()
	if !ok {
		return ErrEventNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
	defer func() { <-lock }()

	s.mu.RLock()
	ev := s.events[eventID]
	s.mu.RUnlock()

	tx := &memTx{store: s, event: ev, staged: make(map[string]model.Reservation)}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range tx.staged {
		s.reservations[id] = r
		key := heldKey{r.EventID, r.SubjectID}
		if r.Held() {
			s.held[key] = id
		} else if s.held[key] == id {
			delete(s.held, key)
		}
	}
	s.events[tx.event.ID] = tx.event
	for _, a := range tx.audit {
		s.nextAuditID++
		a.ID = s.nextAuditID
		s.audit[a.EventID] = append(s.audit[a.EventID], a)
	}
}

func (s *MemoryStore) ReservationEventID(_ context.Context, reservationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return "", ErrReservationNotFound
	}
	return r.EventID, nil
}

func (s *MemoryStore) CreateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("%w: event %s", ErrDuplicateKey, e.ID)
	}
	s.events[e.ID] = e
	s.locks[e.ID] = make(chan struct{}, 1)
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return model.Event{}, ErrEventNotFound
	}
	return ev, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (s *MemoryStore) ReservationsBySubject(_ context.Context, subjectID string) ([]model.Reservation, error) {
	s.mu.RLock()
	out := []model.Reservation{}
	for _, r := range s.reservations {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AuditByEvent(_ context.Context, eventID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditEntry{}, s.audit[eventID]...), nil
}

// memTx stages writes for one WithEventLock call.
type memTx struct {
	store  *MemoryStore
	event  model.Event
	staged map[string]model.Reservation
	audit  []model.AuditEntry
}

func (t *memTx) Event() model.Event { return t.event }

func (t *memTx) lookup(id string) (model.Reservation, bool) {
	if r, ok := t.staged[id]; ok {
		return r, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.reservations[id]
	return r, ok
}

func (t *memTx) HasHeld(_ context.Context, subjectID string) (bool, error) {
	for _, r := range t.staged {
		if r.EventID == t.event.ID && r.SubjectID == subjectID && r.Held() {
			return true, nil
		}
	}
	t.store.mu.RLock()
	id, ok := t.store.held[heldKey{t.event.ID, subjectID}]
	t.store.mu.RUnlock()
	if !ok {
		return false, nil
	}
	// A staged release of that id ends the hold.
	if r, staged := t.staged[id]; staged {
		return r.Held(), nil
	}
	return true, nil
}

func (t *memTx) Reservation(_ context.Context, reservationID string) (model.Reservation, error) {
	r, ok := t.lookup(reservationID)
	if !ok {
		return model.Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

func (t *memTx) InsertReservation(ctx context.Context, r model.Reservation) error {
	if _, exists := t.lookup(r.ID); exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	if r.Held() {
		held, err := t.HasHeld(ctx, r.SubjectID)
		if err != nil {
			return err
		}
		if held {
			return ErrDuplicateHeld
		}
	}
	t.staged[r.ID] = r
	return nil
}

func (t *memTx) MarkReleased(_ context.Context, reservationID string, at time.Time) error {
	r, ok := t.lookup(reservationID)
	if !ok || !r.Held() {
		return ErrReservationNotFound
	}
	r.Status = model.StatusReleased
	releasedAt := at.UTC()
	r.ReleasedAt = &releasedAt
	t.staged[r.ID] = r
	return nil
}

func (t *memTx) SetSeats(_ context.Context, capacity, available int) (model.Event, error) {
	t.event.SeatCapacity = capacity
	t.event.AvailableSeats = available
	t.event.Version++
	return t.event, nil
}

func (t *memTx) CountHeld(_ context.Context) (int, error) {
	n := 0
	for _, r := range t.staged {
		if r.EventID == t.event.ID && r.Held() {
			n++
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, r := range t.store.reservations {
		if _, staged := t.staged[r.ID]; staged {
			continue
		}
		if r.EventID == t.event.ID && r.Held() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) AppendAudit(_ context.Context, a model.AuditEntry) error {
	t.audit = append(t.audit, a)
	return nil
}
