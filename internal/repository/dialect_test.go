package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/event-booking/internal/database"
)

func TestClassifyMySQL(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"held duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'e1-alice' for key 'reservations.uq_reservations_held'"}, ErrDuplicateHeld},
		{"event id duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'e1' for key 'events.PRIMARY'"}, ErrDuplicateKey},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded; try restarting transaction"}, ErrLockTimeout},
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock; try restarting transaction"}, ErrLockTimeout},
		{"wrapped deadlock", fmt.Errorf("select event: %w", &mysql.MySQLError{Number: 1213}), ErrLockTimeout},
		{"context deadline", fmt.Errorf("begin: %w", context.DeadlineExceeded), ErrLockTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyMySQL(tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classifyMySQL(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if tt.want == ErrDuplicateKey && errors.Is(got, ErrDuplicateHeld) {
				t.Fatal("a duplicate event id must not read as a duplicate reservation")
			}
		})
	}
}

func TestClassifyMySQL_PassesOtherErrorsThrough(t *testing.T) {
	if classifyMySQL(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	missing := &mysql.MySQLError{Number: 1146, Message: "Table 'booking.events' doesn't exist"}
	got := classifyMySQL(missing)
	for _, s := range []error{ErrDuplicateHeld, ErrDuplicateKey, ErrLockTimeout} {
		if errors.Is(got, s) {
			t.Fatalf("1146 classified as %v", s)
		}
	}
	var me *mysql.MySQLError
	if !errors.As(got, &me) || me.Number != 1146 {
		t.Fatalf("driver error lost: %v", got)
	}
}

func TestClassifySQLite_Duplicates(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ev := seedEvent(t, s, "e1", 5)

	err := s.CreateEvent(ctx, ev)
	if !errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrDuplicateHeld) {
		t.Fatalf("duplicate event id: got %v, want ErrDuplicateKey", err)
	}

	insert := func(id string) error {
		return s.WithEventLock(ctx, "e1", func(tx EventTx) error {
			return tx.InsertReservation(ctx, held(id, "e1", "alice"))
		})
	}
	if err := insert("r1"); err != nil {
		t.Fatal(err)
	}
	if err := insert("r2"); !errors.Is(err, ErrDuplicateHeld) {
		t.Fatalf("second held: got %v, want ErrDuplicateHeld", err)
	}
}

func TestClassifySQLite_BusyIsLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := NewSQLStore(db, SQLite).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A second handle that gives up at once instead of waiting.
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(0)")
	other, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO events (id, title, starts_at, seat_capacity, available_seats, version, created_at) VALUES ('a', 'A', 1, 1, 1, 0, 1)`); err != nil {
		t.Fatal(err)
	}

	_, err = other.Exec(`INSERT INTO events (id, title, starts_at, seat_capacity, available_seats, version, created_at) VALUES ('b', 'B', 1, 1, 1, 0, 1)`)
	if err == nil {
		t.Fatal("second writer got through while the first held the lock")
	}
	if got := classifySQLite(err); !errors.Is(got, ErrLockTimeout) {
		t.Fatalf("classifySQLite(%v) = %v, want ErrLockTimeout", err, got)
	}
}
