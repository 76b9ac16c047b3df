package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/plumb/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs during server shutdown, when the store is closed while
// a run is still writing its final status or log lines.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// This handles both:
// - Wrapped ErrDatabaseClosed errors from this package
// - Raw database/sql errors ("sql: database is closed") from a closed *sql.DB
//
// database/sql creates the second kind itself, so it can only be recognised by
// its message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	// Our own sentinel first
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	// Fallback: message from database/sql or the driver
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err is a transient SQLite lock error worth retrying.
//
// SQLITE_BUSY means another connection holds the write lock past the busy
// timeout; SQLITE_LOCKED is the same conflict inside one shared-cache
// connection. Both clear once the other writer commits.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
