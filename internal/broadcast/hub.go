// Package broadcast keeps live client connections in sync with seat state.
// A Hub maps connections to the one event each is watching and fans seat
// changes out to every watcher of that event.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds a single delivery to a single connection.
const DefaultWriteTimeout = 10 * time.Second

var (
	ErrHubClosed           = errors.New("broadcast: hub closed")
	ErrDuplicateConnection = errors.New("broadcast: connection id already registered")

	errConnClosed = errors.New("broadcast: connection closed")
	// errCallerGone marks a delivery cut short by the broadcaster's own
	// context rather than by the connection.
	errCallerGone = errors.New("broadcast: caller context ended")
)

// Conn is a duplex client connection as seen by the hub.  Broadcasts to
// one event reach a connection one at a time, but the owner of the
// connection may write to it as well (a snapshot after subscribing), so
// Send must be safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	IsOpen() bool
	Close() error
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections   int   `json:"connections"`
	WatchedEvents int   `json:"watched_events"`
	Broadcasts    int64 `json:"broadcasts"`
	Deliveries    int64 `json:"deliveries"`
	Failures      int64 `json:"failures"`
}

type entry struct {
	id        string
	subjectID string
	conn      Conn
	watching  string
}

// room is the watcher set of one event.  delivery serializes broadcasts to
// the event; inflight counts broadcasts that hold a reference to the room
// so it is not dropped from the registry under them.
type room struct {
	delivery sync.Mutex
	members  map[string]*entry
	inflight int
}

// Hub is the connection registry.  conns and rooms always change together
// under mu, and mu is never held while sending.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*entry
	rooms  map[string]*room
	closed bool

	writeTimeout time.Duration
	log          *slog.Logger

	broadcasts atomic.Int64
	deliveries atomic.Int64
	failures   atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithWriteTimeout sets the per-connection delivery timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.log = l } }

// New returns an empty, open Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		conns:        make(map[string]*entry),
		rooms:        make(map[string]*room),
		writeTimeout: DefaultWriteTimeout,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds an unwatched connection.
func (h *Hub) Register(connID, subjectID string, conn Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.conns[connID]; ok {
		return ErrDuplicateConnection
	}
	h.conns[connID] = &entry{id: connID, subjectID: subjectID, conn: conn}
	h.log.Debug("connection registered", slog.String("conn_id", connID), slog.String("subject_id", subjectID), slog.Int("connections", len(h.conns)))
	return nil
}

// Subscribe makes connID watch eventID, leaving whatever it watched before.
// Subscribing again to the same event changes nothing.
func (h *Hub) Subscribe(connID, eventID string) {
	if eventID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[connID]
	if !ok || e.watching == eventID {
		return
	}
	h.leaveLocked(e)
	r, ok := h.rooms[eventID]
	if !ok {
		r = &room{members: make(map[string]*entry)}
		h.rooms[eventID] = r
	}
	r.members[connID] = e
	e.watching = eventID
}

// Unsubscribe stops connID watching eventID if it currently does.
func (h *Hub) Unsubscribe(connID, eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[connID]
	if !ok || e.watching != eventID {
		return
	}
	h.leaveLocked(e)
}

// Deregister removes connID from the registry.  The connection itself is
// left open; its owner decides when to close it.
func (h *Hub) Deregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[connID]
	if !ok {
		return
	}
	h.removeLocked(e)
	h.log.Debug("connection deregistered", slog.String("conn_id", connID), slog.Int("connections", len(h.conns)))
}

// Watching reports the event connID watches, if any.
func (h *Hub) Watching(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[connID]
	if !ok || e.watching == "" {
		return "", false
	}
	return e.watching, true
}

// Watchers returns the size of eventID's watcher set.
func (h *Hub) Watchers(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[eventID]; ok {
		return len(r.members)
	}
	return 0
}

// Broadcast delivers msg to every connection watching eventID and returns
// how many deliveries succeeded.  A connection whose delivery fails, is
// already closed or exceeds the write timeout is deregistered and closed.
// Deliveries still pending when ctx ends are abandoned without eviction.
// Broadcasts to one event are delivered in call order; deliveries to the
// connections of one broadcast run concurrently.
func (h *Hub) Broadcast(ctx context.Context, eventID string, msg []byte) int {
	h.mu.Lock()
	r, ok := h.rooms[eventID]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	r.inflight++
	h.mu.Unlock()
	h.broadcasts.Add(1)

	r.delivery.Lock()
	h.mu.Lock()
	targets := make([]*entry, 0, len(r.members))
	for _, e := range r.members {
		targets = append(targets, e)
	}
	h.mu.Unlock()

	results := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, e := range targets {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			results[i] = h.deliver(ctx, e, msg)
		}(i, e)
	}
	wg.Wait()
	r.delivery.Unlock()

	delivered := 0
	var dead []*entry
	for i, err := range results {
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, errCallerGone):
			// Still pending when the caller gave up; the connection may be
			// healthy.
		default:
			dead = append(dead, targets[i])
			h.log.Info("dropping connection after failed delivery",
				slog.String("conn_id", targets[i].id),
				slog.String("event_id", eventID),
				slog.Any("error", err))
		}
	}
	h.deliveries.Add(int64(delivered))
	h.failures.Add(int64(len(dead)))

	h.mu.Lock()
	r.inflight--
	for _, e := range dead {
		// Only the registration that failed is removed; the id may have
		// been deregistered and reused meanwhile.
		if cur, ok := h.conns[e.id]; ok && cur == e {
			h.removeLocked(e)
		}
	}
	h.dropIfEmptyLocked(eventID, r)
	h.mu.Unlock()

	for _, e := range dead {
		_ = e.conn.Close()
	}
	return delivered
}

// Close closes every registered connection and rejects later
// registrations.  Calling it again does nothing.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	entries := make([]*entry, 0, len(h.conns))
	for _, e := range h.conns {
		entries = append(entries, e)
	}
	h.conns = make(map[string]*entry)
	for id, r := range h.rooms {
		r.members = make(map[string]*entry)
		if r.inflight == 0 {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()

	for _, e := range entries {
		_ = e.conn.Close()
	}
	h.log.Info("hub closed", slog.Int("connections", len(entries)))
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	s := Stats{Connections: len(h.conns)}
	for _, r := range h.rooms {
		if len(r.members) > 0 {
			s.WatchedEvents++
		}
	}
	h.mu.Unlock()
	s.Broadcasts = h.broadcasts.Load()
	s.Deliveries = h.deliveries.Load()
	s.Failures = h.failures.Load()
	return s
}

func (h *Hub) deliver(ctx context.Context, e *entry, msg []byte) error {
	if !e.conn.IsOpen() {
		return errConnClosed
	}
	dctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	// Send may ignore dctx; the select keeps a stalled peer from holding up
	// the rest of the broadcast.
	done := make(chan error, 1)
	go func() { done <- e.conn.Send(dctx, msg) }()
	select {
	case err := <-done:
		if err != nil && isContextErr(err) && ctx.Err() != nil {
			return errCallerGone
		}
		return err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return errCallerGone
		}
		return dctx.Err()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (h *Hub) leaveLocked(e *entry) {
	if e.watching == "" {
		return
	}
	if r, ok := h.rooms[e.watching]; ok {
		delete(r.members, e.id)
		h.dropIfEmptyLocked(e.watching, r)
	}
	e.watching = ""
}

func (h *Hub) removeLocked(e *entry) {
	h.leaveLocked(e)
	delete(h.conns, e.id)
}

func (h *Hub) dropIfEmptyLocked(eventID string, r *room) {
	if len(r.members) == 0 && r.inflight == 0 && h.rooms[eventID] == r {
		delete(h.rooms, eventID)
	}
}
