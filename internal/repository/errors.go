// Package repository implements MySQL persistence for bookings, seat holds
// and payments.  Methods with a Tx suffix run inside a transaction supplied
// by the caller, who is responsible for committing or rolling it back.
//
// The sentinel values below let the service layer distinguish failure
// scenarios without inspecting driver errors.  ErrNotFound is returned when
// a row does not exist (or is soft-deleted where the method says so),
// ErrDuplicate when an insert or update hits a unique key, most importantly
// the live-seat key on booked_seats, and ErrLockConflict when InnoDB gives
// up on a lock (deadlock or lock wait timeout).
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write violates a unique key.
var ErrDuplicate = errors.New("duplicate key")

// ErrLockConflict is returned when InnoDB aborts a statement because a
// concurrent transaction holds the rows or gaps it needs.  Two claims
// racing for the same free seat under REPEATABLE READ end this way
// rather than with a duplicate key.
var ErrLockConflict = errors.New("lock conflict")

// MySQL server error numbers.
const (
	mysqlDuplicateEntry  = 1062 // ER_DUP_ENTRY
	mysqlLockWaitTimeout = 1205 // ER_LOCK_WAIT_TIMEOUT
	mysqlDeadlock        = 1213 // ER_LOCK_DEADLOCK
)

// translate maps driver errors onto the package sentinels and leaves all
// other errors untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %s", ErrDuplicate, me.Message)
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return fmt.Errorf("%w: %w", ErrLockConflict, err)
		}
	}
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableID(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	id := uint64(v.Int64)
	return &id
}

func idArg(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}
