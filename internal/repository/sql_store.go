package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// SQLStore implements Store on database/sql.  Timestamps are stored as
// UTC microseconds since the Unix epoch so that both dialects scan them the
// same way.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore returns a SQLStore bound to db using the given dialect.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the tables and indexes of the dialect when missing.
// Statements run one by one because the MySQL driver rejects multi
// statement strings unless explicitly enabled.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

const selectEvent = `SELECT id, title, starts_at, seat_capacity, available_seats, version, created_at FROM events`

const selectReservation = `SELECT id, event_id, subject_id, status, created_at, released_at FROM reservations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var e model.Event
	var startsAt, createdAt int64
	if err := row.Scan(&e.ID, &e.Title, &startsAt, &e.SeatCapacity, &e.AvailableSeats, &e.Version, &createdAt); err != nil {
		return model.Event{}, err
	}
	e.StartsAt = fromMicros(startsAt)
	e.CreatedAt = fromMicros(createdAt)
	return e, nil
}

func scanReservation(row rowScanner) (model.Reservation, error) {
	var r model.Reservation
	var status string
	var createdAt int64
	var releasedAt sql.NullInt64
	if err := row.Scan(&r.ID, &r.EventID, &r.SubjectID, &status, &createdAt, &releasedAt); err != nil {
		return model.Reservation{}, err
	}
	r.Status = model.ReservationStatus(status)
	r.CreatedAt = fromMicros(createdAt)
	if releasedAt.Valid {
		t := fromMicros(releasedAt.Int64)
		r.ReleasedAt = &t
	}
	return r, nil
}

// WithEventLock begins a transaction, locks the event row and hands the
// transaction to fn.  The rollback in the deferred func is a no-op once
// the commit succeeded.
func (s *SQLStore) WithEventLock(ctx context.Context, eventID string, fn func(tx EventTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.dialect.classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ev, err := scanEvent(tx.QueryRowContext(ctx, selectEvent+` WHERE id = ?`+s.dialect.LockClause, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEventNotFound
	}
	if err != nil {
		return s.dialect.classify(err)
	}

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect, event: ev}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.dialect.classify(err)
	}
	committed = true
	return nil
}

// ReservationEventID looks up the owning event of a reservation.
func (s *SQLStore) ReservationEventID(ctx context.Context, reservationID string) (string, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx, `SELECT event_id FROM reservations WHERE id = ?`, reservationID).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrReservationNotFound
	}
	if err != nil {
		return "", s.dialect.classify(err)
	}
	return eventID, nil
}

// CreateEvent inserts a new event row.
func (s *SQLStore) CreateEvent(ctx context.Context, e model.Event) error {
	const q = `INSERT INTO events (id, title, starts_at, seat_capacity, available_seats, version, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, e.ID, e.Title, toMicros(e.StartsAt), e.SeatCapacity, e.AvailableSeats, e.Version, toMicros(e.CreatedAt))
	return s.dialect.classify(err)
}

// GetEvent reads an event without locking it.
func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, selectEvent+` WHERE id = ?`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrEventNotFound
	}
	if err != nil {
		return model.Event{}, s.dialect.classify(err)
	}
	return ev, nil
}

// ListEvents returns all events ordered by start time.
func (s *SQLStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvent+` ORDER BY starts_at, id`)
	if err != nil {
		return nil, s.dialect.classify(err)
	}
	defer rows.Close()
	events := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReservationsBySubject returns a subject's reservations, newest first.
func (s *SQLStore) ReservationsBySubject(ctx context.Context, subjectID string) ([]model.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, selectReservation+` WHERE subject_id = ? ORDER BY created_at DESC, id`, subjectID)
	if err != nil {
		return nil, s.dialect.classify(err)
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditByEvent returns the audit trail of an event in append order.
func (s *SQLStore) AuditByEvent(ctx context.Context, eventID string) ([]model.AuditEntry, error) {
	const q = `SELECT id, action, event_id, subject_id, reservation_id, available_seats, seat_capacity, created_at
	           FROM seat_audit WHERE event_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, s.dialect.classify(err)
	}
	defer rows.Close()
	out := []model.AuditEntry{}
	for rows.Next() {
		var a model.AuditEntry
		var action string
		var reservationID sql.NullString
		var createdAt int64
		if err := rows.Scan(&a.ID, &action, &a.EventID, &a.SubjectID, &reservationID, &a.AvailableSeats, &a.SeatCapacity, &createdAt); err != nil {
			return nil, err
		}
		a.Action = model.AuditAction(action)
		a.ReservationID = reservationID.String
		a.CreatedAt = fromMicros(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// sqlTx is the EventTx handed out by SQLStore.WithEventLock.
type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
	event   model.Event
}

func (t *sqlTx) Event() model.Event { return t.event }

func (t *sqlTx) HasHeld(ctx context.Context, subjectID string) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM reservations WHERE event_id = ? AND subject_id = ? AND status = ?` + t.dialect.LockClause
	if err := t.tx.QueryRowContext(ctx, q, t.event.ID, subjectID, string(model.StatusHeld)).Scan(&n); err != nil {
		return false, t.dialect.classify(err)
	}
	return n > 0, nil
}

func (t *sqlTx) Reservation(ctx context.Context, reservationID string) (model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRowContext(ctx, selectReservation+` WHERE id = ?`+t.dialect.LockClause, reservationID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	if err != nil {
		return model.Reservation{}, t.dialect.classify(err)
	}
	return r, nil
}

func (t *sqlTx) InsertReservation(ctx context.Context, r model.Reservation) error {
	const q = `INSERT INTO reservations (id, event_id, subject_id, status, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, q, r.ID, r.EventID, r.SubjectID, string(r.Status), toMicros(r.CreatedAt))
	return t.dialect.classify(err)
}

func (t *sqlTx) MarkReleased(ctx context.Context, reservationID string, at time.Time) error {
	const q = `UPDATE reservations SET status = ?, released_at = ? WHERE id = ? AND status = ?`
	res, err := t.tx.ExecContext(ctx, q, string(model.StatusReleased), toMicros(at), reservationID, string(model.StatusHeld))
	if err != nil {
		return t.dialect.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (t *sqlTx) SetSeats(ctx context.Context, capacity, available int) (model.Event, error) {
	const q = `UPDATE events SET seat_capacity = ?, available_seats = ?, version = version + 1 WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, q, capacity, available, t.event.ID); err != nil {
		return model.Event{}, t.dialect.classify(err)
	}
	t.event.SeatCapacity = capacity
	t.event.AvailableSeats = available
	t.event.Version++
	return t.event, nil
}

func (t *sqlTx) CountHeld(ctx context.Context) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM reservations WHERE event_id = ? AND status = ?`
	if err := t.tx.QueryRowContext(ctx, q, t.event.ID, string(model.StatusHeld)).Scan(&n); err != nil {
		return 0, t.dialect.classify(err)
	}
	return n, nil
}

func (t *sqlTx) AppendAudit(ctx context.Context, a model.AuditEntry) error {
	const q = `INSERT INTO seat_audit (action, event_id, subject_id, reservation_id, available_seats, seat_capacity, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	var reservationID sql.NullString
	if a.ReservationID != "" {
		reservationID = sql.NullString{String: a.ReservationID, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, q, string(a.Action), a.EventID, a.SubjectID, reservationID, a.AvailableSeats, a.SeatCapacity, toMicros(a.CreatedAt))
	return t.dialect.classify(err)
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
