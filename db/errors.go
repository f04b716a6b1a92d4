package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/compliq/errors"
)

// ErrDatabaseClosed marks errors from a job store whose *sql.DB has been closed.
// Pulse workers stop polling when they see it instead of logging a failure per tick.
var ErrDatabaseClosed = errors.New("database is closed")

// closedMessages are the texts database/sql and the sqlite driver use after Close.
var closedMessages = []string{
	"sql: database is closed",
	"database is closed",
}

// MarkClosed tags err with ErrDatabaseClosed when it came from a closed handle,
// so callers further up can use errors.Is without knowing the driver's wording.
// Any other error, including nil, is returned unchanged.
func MarkClosed(err error) error {
	if err == nil || errors.Is(err, ErrDatabaseClosed) || !closedByDriver(err) {
		return err
	}
	return errors.Mark(err, ErrDatabaseClosed)
}

// IsDatabaseClosed reports whether err means the job database is gone: either a
// marked error, sql.ErrConnDone, or a raw driver error carrying the closed text.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsAny(err, ErrDatabaseClosed, sql.ErrConnDone) {
		return true
	}
	return closedByDriver(err)
}

func closedByDriver(err error) bool {
	msg := err.Error()
	for _, m := range closedMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
