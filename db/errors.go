package db

import (
	"strings"

	"github.com/teranos/chainable/errors"
)

// ErrDatabaseClosed marks writes that raced a closing database, such as usage
// rows from a run interrupted during shutdown
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is ErrDatabaseClosed or the driver's own
// "database is closed" error, which arrives unwrapped from database/sql
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDatabaseClosed) || strings.Contains(err.Error(), "database is closed")
}
