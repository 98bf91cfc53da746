// Package repository implements MySQL persistence for users, sessions,
// messages and groups. The sentinel errors below let services tell apart
// the failure cases they translate into domain errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a signup collides with the unique email index.
var ErrEmailExists = errors.New("email already exists")

// ErrVersionConflict is returned when a message row changed between read
// and conditional update. Callers re-read and retry.
var ErrVersionConflict = errors.New("version conflict")

// ErrConflict is returned when an insert violates a uniqueness constraint
// other than the user email.
var ErrConflict = errors.New("conflict")

// ErrPinLimit is returned when a conversation already holds the maximum
// number of pinned messages.
var ErrPinLimit = errors.New("pin limit reached")

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
