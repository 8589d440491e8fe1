/*
Package dbobj is a small row-object mapper over database/sql. A table type
declares its columns once, with access flags, and then loads, inserts,
updates, deletes, queries and streams rows without SQL at call sites.

# Declaring a table type

A table type embeds *Table and registers columns in its constructor. The
constructor receives the *DB capability, which carries the Connector and the
registry of relation targets:

	type User struct{ *dbobj.Table }

	func NewUser(db *dbobj.DB) *User {
	    t := db.NewTable("users")
	    t.Define("id", dbobj.UniqueID|dbobj.ExcludeSet|dbobj.ExcludeUpdate)
	    t.Define("name", 0)
	    t.Define("prefs", dbobj.Serialize)
	    t.DefineRelation("team_id", 0, "teams")
	    return &User{Table: t}
	}

	var userName = dbobj.NewField[string]("name")

Registration errors (duplicate names, a second UniqueID column, unknown
relation targets) stick to the row and are returned by its first statement.

# Column flags

  - ExcludeGet: Get reports the column as absent.
  - ExcludeSet: the first Set is accepted, later ones are silently dropped.
    Loads from the database always bypass it.
  - ExcludeUpdate: the column is left out of UPDATE.
  - UniqueID: the single-row key for lookup, update, delete and count.
  - Serialize: maps, slices and arrays are stored as base64-wrapped JSON text
    and decoded on read.

# Statements

Tables write SQL with :named parameters; SQLConnector rewrites them into the
driver's placeholder style (see PlaceholderFor). A nil parameter binds as SQL
NULL. Table and column names are emitted verbatim.

Insert leaves NULL columns out of the statement and writes the database
identity back into the unique column. Delete resets every column to NULL
whatever the outcome. The row then reports StateDeleted but is otherwise a
New row again, ready to be filled and inserted.

# Errors

Missing rows, unknown column names and exhausted cursors are reported as
false, not as errors. A table type declared without what an operation needs
fails with ErrNoUniqueColumn or ErrNothingToUpdate. Database errors pass
through unchanged.

# Streaming

Repository.StartAll and StartWhere open a cursor owned by the table type;
Next pulls one row at a time and End releases it. Only one cursor per table
type is open at a time: starting another ends the first. Ordinary queries may
run while a cursor is open.

# Concurrency

A Table is a single row and is not safe for concurrent use. Repositories are
safe to share for one-shot queries, but callers must serialize use of a table
type's cursor.
*/
package dbobj
