package dbobj

import "errors"

// Configuration errors. These mean the table type is declared wrong, not that
// a row is missing, and they are returned instead of a false result.
var (
	// ErrNoUniqueColumn is returned by operations that address a single row
	// (update, delete, unique-id lookup, count) on a table without a column
	// flagged UniqueID.
	ErrNoUniqueColumn = errors.New("dbobj: no column registered with the UniqueID flag")

	// ErrNothingToUpdate is returned by Update when every column carries ExcludeUpdate.
	ErrNothingToUpdate = errors.New("dbobj: nothing to update")

	// ErrDuplicateColumn is returned when a column name is registered twice.
	ErrDuplicateColumn = errors.New("dbobj: duplicate column")

	// ErrDuplicateUniqueColumn is returned when a second UniqueID column is registered.
	ErrDuplicateUniqueColumn = errors.New("dbobj: unique column already registered")

	// ErrInvalidColumnName is returned for names that cannot be used as a :named parameter.
	ErrInvalidColumnName = errors.New("dbobj: invalid column name")

	// ErrUnknownRelation is returned when a column points at a relation target
	// that was never registered on the DB.
	ErrUnknownRelation = errors.New("dbobj: unknown relation target")
)

// ErrMissingUniqueValue is returned by Repository.Next(ctx, true) when the
// cursor row carries no value for the unique column, which usually means a
// custom projection left it out.
var ErrMissingUniqueValue = errors.New("dbobj: row has no unique id value")

// ErrCursorNotStarted is returned by a Connector when a cursor operation names
// an identity that has no open cursor.
var ErrCursorNotStarted = errors.New("dbobj: cursor not started")
