// Package repository holds the MySQL persistence for reservations, sales
// and the session prices they are charged at.  Sentinel errors declared
// here let the service layer translate storage outcomes into domain
// outcomes without inspecting driver errors itself.
package repository

import (
    "github.com/cockroachdb/errors"
    "github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSale is returned when inserting a sale violates one of the
// unique keys on the sales table, i.e. the seat was already sold or the
// reservation already paid.
var ErrDuplicateSale = errors.New("duplicate sale")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
