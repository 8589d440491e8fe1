package dbobj

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a query returning rows.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a statement that does not return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Handle is the part of *sql.DB, *sql.Tx and *sql.Conn that SQLConnector uses.
type Handle interface {
	Querier
	Execer
}

// Row is one result row keyed by column name.
type Row map[string]any

// Connector executes the SQL that tables synthesize. Statements use :named
// parameters and every parameter is passed by name.
//
// Cursors are keyed by an identity string. Starting a cursor for an identity
// that already has one open replaces it, so at most one cursor per identity is
// live. Implementations need not make one identity's cursor safe for
// concurrent use.
type Connector interface {
	// Query runs a read and returns every row.
	Query(ctx context.Context, query string, params Params) ([]Row, error)
	// Exec runs a write.
	Exec(ctx context.Context, query string, params Params) (sql.Result, error)
	// LastInsertID is the identity reported by the most recent Exec.
	LastInsertID() (int64, error)
	// LastError is the error of the most recent failed statement, or nil.
	LastError() error

	StartCursor(ctx context.Context, identity, query string, params Params) error
	EndCursor(identity string) error
	CursorOpen(identity string) bool
	// NextRow advances the cursor. It reports false once the cursor is exhausted.
	NextRow(ctx context.Context, identity string) (Row, bool, error)
}

// SQLConnector is the database/sql Connector. It rewrites :named parameters
// into the driver's placeholder style and holds cursors as open *sql.Rows.
//
// A cursor keeps one pool connection busy until it is ended or exhausted;
// queries issued while it is open run on other connections. With a pool
// limited to one connection (SetMaxOpenConns(1)), do not mix the two.
type SQLConnector struct {
	h   Handle
	ph  Placeholder
	log *slog.Logger

	mu        sync.Mutex
	cursors   map[string]*cursor
	lastID    int64
	lastIDErr error
	lastErr   error
}

type cursor struct {
	id   uuid.UUID
	rows *sql.Rows
	cols []string
	done bool
}

// ConnectorOption configures a SQLConnector.
type ConnectorOption func(*SQLConnector)

// WithConnectorLogger sets the logger for statement and cursor events.
func WithConnectorLogger(l *slog.Logger) ConnectorOption {
	return func(c *SQLConnector) { c.log = l }
}

// NewSQLConnector wraps h. Pick ph with PlaceholderFor(driverName).
//
//	db, _ := sql.Open("mysql", dsn)
//	conn := dbobj.NewSQLConnector(db, dbobj.PlaceholderFor("mysql"))
func NewSQLConnector(h Handle, ph Placeholder, opts ...ConnectorOption) *SQLConnector {
	c := &SQLConnector{
		h:       h,
		ph:      ph,
		log:     slog.Default(),
		cursors: make(map[string]*cursor),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Connector = (*SQLConnector)(nil)

func (c *SQLConnector) bind(query string, params Params) (string, []any, error) {
	if params == nil {
		params = Params{}
	}
	return Rebind(query, c.ph, params)
}

func (c *SQLConnector) Query(ctx context.Context, query string, params Params) (out []Row, err error) {
	bound, args, err := c.bind(query, params)
	if err != nil {
		return nil, c.fail(err)
	}
	c.log.DebugContext(ctx, "dbobj: query", "sql", bound, "args", len(args))
	rows, err := c.h.QueryContext(ctx, bound, args...)
	if err != nil {
		return nil, c.fail(err)
	}
	// Propagate rows.Close() error if nothing else failed.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = c.fail(cerr)
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, c.fail(err)
	}
	for rows.Next() {
		r, scanErr := scanRow(rows, cols)
		if scanErr != nil {
			return nil, c.fail(scanErr)
		}
		out = append(out, r)
	}
	if ne := rows.Err(); ne != nil {
		return nil, c.fail(ne)
	}
	c.ok()
	return out, nil
}

func (c *SQLConnector) Exec(ctx context.Context, query string, params Params) (sql.Result, error) {
	bound, args, err := c.bind(query, params)
	if err != nil {
		return nil, c.fail(err)
	}
	c.log.DebugContext(ctx, "dbobj: exec", "sql", bound, "args", len(args))
	res, err := c.h.ExecContext(ctx, bound, args...)
	if err != nil {
		return nil, c.fail(err)
	}
	id, idErr := res.LastInsertId()
	c.mu.Lock()
	c.lastID, c.lastIDErr, c.lastErr = id, idErr, nil
	c.mu.Unlock()
	return res, nil
}

func (c *SQLConnector) LastInsertID() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID, c.lastIDErr
}

func (c *SQLConnector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *SQLConnector) StartCursor(ctx context.Context, identity, query string, params Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked(identity)

	bound, args, err := c.bind(query, params)
	if err != nil {
		c.lastErr = err
		return err
	}
	rows, err := c.h.QueryContext(ctx, bound, args...)
	if err != nil {
		c.lastErr = err
		return err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		c.lastErr = err
		return err
	}
	cur := &cursor{id: uuid.New(), rows: rows, cols: cols}
	c.cursors[identity] = cur
	c.lastErr = nil
	c.log.DebugContext(ctx, "dbobj: cursor started", "identity", identity, "cursor", cur.id, "sql", bound)
	return nil
}

func (c *SQLConnector) NextRow(ctx context.Context, identity string) (Row, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[identity]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrCursorNotStarted, identity)
	}
	if cur.done {
		return nil, false, nil
	}
	if !cur.rows.Next() {
		cur.done = true
		err := cur.rows.Err()
		if cerr := cur.rows.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			c.lastErr = err
			return nil, false, err
		}
		c.log.DebugContext(ctx, "dbobj: cursor exhausted", "identity", identity, "cursor", cur.id)
		return nil, false, nil
	}
	r, err := scanRow(cur.rows, cur.cols)
	if err != nil {
		c.lastErr = err
		return nil, false, err
	}
	return r, true, nil
}

// EndCursor releases the identity's cursor. Ending a closed cursor is a no-op.
func (c *SQLConnector) EndCursor(identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLocked(identity)
}

func (c *SQLConnector) endLocked(identity string) error {
	cur, ok := c.cursors[identity]
	if !ok {
		return nil
	}
	delete(c.cursors, identity)
	c.log.Debug("dbobj: cursor ended", "identity", identity, "cursor", cur.id)
	if cur.done {
		return nil
	}
	return cur.rows.Close()
}

func (c *SQLConnector) CursorOpen(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cursors[identity]
	return ok
}

// CursorID returns the session id of the identity's open cursor. Every start
// gets a fresh id; it is the "cursor" attribute of the connector's log lines.
func (c *SQLConnector) CursorID(identity string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[identity]
	if !ok {
		return uuid.Nil, false
	}
	return cur.id, true
}

// Close ends every open cursor. It does not close the underlying handle.
func (c *SQLConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for id := range c.cursors {
		if err := c.endLocked(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *SQLConnector) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *SQLConnector) ok() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

// scanRow reads the current row. database/sql copies []byte values scanned
// into *any, so the result outlives the next call to rows.Next.
func scanRow(rows *sql.Rows, cols []string) (Row, error) {
	vals := make([]any, len(cols))
	dests := make([]any, len(cols))
	for i := range vals {
		dests[i] = &vals[i]
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	r := make(Row, len(cols))
	for i, name := range cols {
		r[normalizeColName(name)] = vals[i]
	}
	return r, nil
}

// normalizeColName strips identifier quoting some drivers echo back.
func normalizeColName(s string) string {
	if l := len(s); l >= 2 {
		switch {
		case s[0] == '"' && s[l-1] == '"',
			s[0] == '`' && s[l-1] == '`',
			s[0] == '[' && s[l-1] == ']':
			return s[1 : l-1]
		}
	}
	return s
}
