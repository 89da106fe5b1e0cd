package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures what differs between the SQL databases SQLStore runs
// on: the DDL, how a row is locked for update, and how driver errors map
// onto the package sentinels.
type Dialect struct {
	Name string
	// LockClause is appended to SELECTs that must take row locks.  Empty
	// when the database serializes writers on its own.
	LockClause string
	Schema     []string
	classify   func(error) error
}

// MySQL is the production dialect.  Rows are locked with SELECT ... FOR
// UPDATE, so only transactions on the same event contend.  MySQL has no
// partial indexes; the one-held-per-subject rule uses a stored generated
// column that is NULL for released rows, and NULLs never collide in a
// unique key.
var MySQL = Dialect{
	Name:       "mysql",
	LockClause: " FOR UPDATE",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id              VARCHAR(64)  NOT NULL PRIMARY KEY,
			title           VARCHAR(255) NOT NULL,
			starts_at       BIGINT       NOT NULL,
			seat_capacity   INT          NOT NULL,
			available_seats INT          NOT NULL,
			version         BIGINT       NOT NULL DEFAULT 0,
			created_at      BIGINT       NOT NULL,
			CONSTRAINT chk_events_capacity CHECK (seat_capacity > 0),
			CONSTRAINT chk_events_available CHECK (available_seats >= 0 AND available_seats <= seat_capacity)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id           CHAR(36)     NOT NULL PRIMARY KEY,
			event_id     VARCHAR(64)  NOT NULL,
			subject_id   VARCHAR(128) NOT NULL,
			status       VARCHAR(16)  NOT NULL,
			created_at   BIGINT       NOT NULL,
			released_at  BIGINT       NULL,
			held_subject VARCHAR(128) GENERATED ALWAYS AS (CASE WHEN status = 'HELD' THEN subject_id ELSE NULL END) STORED,
			UNIQUE KEY uq_reservations_held (event_id, held_subject),
			KEY idx_reservations_subject (subject_id, created_at),
			CONSTRAINT fk_reservations_event FOREIGN KEY (event_id) REFERENCES events (id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS seat_audit (
			id              BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			action          VARCHAR(32)  NOT NULL,
			event_id        VARCHAR(64)  NOT NULL,
			subject_id      VARCHAR(128) NOT NULL,
			reservation_id  CHAR(36)     NULL,
			available_seats INT          NOT NULL,
			seat_capacity   INT          NOT NULL,
			created_at      BIGINT       NOT NULL,
			KEY idx_seat_audit_event (event_id, id)
		) ENGINE=InnoDB`,
	},
	classify: classifyMySQL,
}

// SQLite is the embedded dialect.  The database allows a single writer at
// a time, so the event lock is the database write lock and no lock clause
// is needed.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id              TEXT    NOT NULL PRIMARY KEY,
			title           TEXT    NOT NULL,
			starts_at       INTEGER NOT NULL,
			seat_capacity   INTEGER NOT NULL CHECK (seat_capacity > 0),
			available_seats INTEGER NOT NULL,
			version         INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			CHECK (available_seats >= 0 AND available_seats <= seat_capacity)
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id          TEXT    NOT NULL PRIMARY KEY,
			event_id    TEXT    NOT NULL REFERENCES events (id),
			subject_id  TEXT    NOT NULL,
			status      TEXT    NOT NULL CHECK (status IN ('HELD', 'RELEASED')),
			created_at  INTEGER NOT NULL,
			released_at INTEGER
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_held
			ON reservations (event_id, subject_id) WHERE status = 'HELD'`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_subject
			ON reservations (subject_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS seat_audit (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			action          TEXT    NOT NULL,
			event_id        TEXT    NOT NULL,
			subject_id      TEXT    NOT NULL,
			reservation_id  TEXT,
			available_seats INTEGER NOT NULL,
			seat_capacity   INTEGER NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seat_audit_event ON seat_audit (event_id, id)`,
	},
	classify: classifySQLite,
}

// MySQL server error numbers.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// heldIndex names the one-held-per-subject key in both schemas.  MySQL
// quotes the key name in duplicate-entry messages; SQLite lists the
// indexed columns instead.
const (
	heldIndex        = "uq_reservations_held"
	heldIndexColumns = "reservations.event_id, reservations.subject_id"
)

func classifyMySQL(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			if strings.Contains(me.Message, heldIndex) {
				return fmt.Errorf("%w: %v", ErrDuplicateHeld, err)
			}
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
	}
	return err
}

func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE && strings.Contains(se.Error(), heldIndexColumns):
			return fmt.Errorf("%w: %v", ErrDuplicateHeld, err)
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		case code&0xff == sqlite3.SQLITE_BUSY,
			code&0xff == sqlite3.SQLITE_LOCKED,
			code&0xff == sqlite3.SQLITE_INTERRUPT:
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
	}
	return err
}
