package dbobj

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// --- Minimal in-test driver --------------------------------------------------

type queryHandler func(query string, args []any) (cols []string, rows [][]driver.Value, err error)
type execHandler func(query string, args []any) (driver.Result, error)

type stmt struct {
	query string
	args  []any
}

// fakeDB records every statement and answers from the handlers.
type fakeDB struct {
	mu    sync.Mutex
	stmts []stmt
	query queryHandler
	exec  execHandler
}

func (f *fakeDB) record(q string, named []driver.NamedValue) []any {
	args := make([]any, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	f.mu.Lock()
	f.stmts = append(f.stmts, stmt{query: q, args: args})
	f.mu.Unlock()
	return args
}

func (f *fakeDB) statements() []stmt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stmt(nil), f.stmts...)
}

func (f *fakeDB) last(t *testing.T) stmt {
	t.Helper()
	s := f.statements()
	require.NotEmpty(t, s, "no statement issued")
	return s[len(s)-1]
}

type fakeConnector struct{ db *fakeDB }

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: c.db}, nil }
func (c *fakeConnector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("fakeDriver.Open should not be called; use sql.OpenDB with connector")
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *fakeConn) QueryContext(ctx context.Context, query string, named []driver.NamedValue) (driver.Rows, error) {
	args := c.db.record(query, named)
	if c.db.query == nil {
		return nil, errors.New("fakeDB: no query handler")
	}
	cols, data, err := c.db.query(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{cols: cols, data: data}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, named []driver.NamedValue) (driver.Result, error) {
	args := c.db.record(query, named)
	if c.db.exec == nil {
		return nil, errors.New("fakeDB: no exec handler")
	}
	return c.db.exec(query, args)
}

type fakeRows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (r *fakeRows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

type testResult struct {
	lastID int64
	rows   int64
	liErr  error
	raErr  error
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, r.liErr }
func (r testResult) RowsAffected() (int64, error) { return r.rows, r.raErr }

func newFakeSQL(t *testing.T, f *fakeDB) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&fakeConnector{db: f})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// --- Test table types -------------------------------------------------------

type team struct{ *Table }

func newTeam(db *DB) *team {
	t := db.NewTable("teams")
	_ = t.Define("id", UniqueID|ExcludeSet|ExcludeUpdate)
	_ = t.Define("code", 0)
	_ = t.Define("title", 0)
	return &team{Table: t}
}

type user struct{ *Table }

func newUser(db *DB) *user {
	t := db.NewTable("users")
	_ = t.Define("id", UniqueID|ExcludeSet|ExcludeUpdate)
	_ = t.Define("name", 0)
	_ = t.Define("secret", ExcludeGet)
	_ = t.Define("prefs", Serialize)
	_ = t.DefineRelation("team_id", 0, "teams")
	_ = t.DefineRelationColumn("team_code", 0, "teams", "code")
	return &user{Table: t}
}

// logEntry has no unique column.
type logEntry struct{ *Table }

func newLogEntry(db *DB) *logEntry {
	t := db.NewTable("log_entries")
	_ = t.Define("message", 0)
	_ = t.Define("level", 0)
	return &logEntry{Table: t}
}

const (
	userCols   = "id, name, secret, prefs, team_id, team_code"
	selectUser = "SELECT " + userCols + " FROM users"
	selectTeam = "SELECT id, code, title FROM teams"
)

var userColNames = []string{"id", "name", "secret", "prefs", "team_id", "team_code"}

// newTestDB wires a fakeDB behind SQLConnector and registers the test types.
func newTestDB(t *testing.T, f *fakeDB) *DB {
	t.Helper()
	conn := NewSQLConnector(newFakeSQL(t, f), PlaceholderQuestion)
	db := New(conn)
	require.NoError(t, RegisterModel(db, "teams", newTeam))
	require.NoError(t, RegisterModel(db, "users", newUser))
	return db
}
