package dbobj

import (
	"fmt"
	"log/slog"
	"sync"
)

// Model is a row of some table type. Embedding *Table satisfies it:
//
//	type User struct{ *dbobj.Table }
type Model interface {
	Row() *Table
}

// Factory builds an empty row of one table type.
type Factory func(db *DB) Model

// DB is the capability handed to every table: the Connector that runs its
// statements, the logger, and the registry of relation targets.
//
// Build one at process start and pass it down. Relation targets must be
// registered before rows that point at them are constructed.
type DB struct {
	conn Connector
	log  *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for table-level events.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

func New(conn Connector, opts ...Option) *DB {
	db := &DB{
		conn:      conn,
		log:       slog.Default(),
		factories: make(map[string]Factory),
	}
	for _, o := range opts {
		o(db)
	}
	return db
}

func (db *DB) Connector() Connector { return db.conn }
func (db *DB) Logger() *slog.Logger { return db.log }

// Register makes f reachable as a relation target under name.
func (db *DB) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: empty name or nil factory", ErrUnknownRelation)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, dup := db.factories[name]; dup {
		return fmt.Errorf("dbobj: relation target %q already registered", name)
	}
	db.factories[name] = f
	return nil
}

// RegisterModel is Register for a constructor returning a concrete row type.
//
//	dbobj.RegisterModel(db, "users", NewUser)
func RegisterModel[T Model](db *DB, name string, newRow func(*DB) T) error {
	return db.Register(name, func(db *DB) Model { return newRow(db) })
}

func (db *DB) factory(name string) (Factory, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	f, ok := db.factories[name]
	return f, ok
}

// NewTable starts the column registration of one row of table name.
//
//	func NewUser(db *dbobj.DB) *User {
//	    t := db.NewTable("users")
//	    t.Define("id", dbobj.UniqueID|dbobj.ExcludeSet|dbobj.ExcludeUpdate)
//	    t.Define("name", 0)
//	    t.DefineRelation("team_id", 0, "teams")
//	    return &User{Table: t}
//	}
//
// Registration errors are kept on the table; see Table.Err.
func (db *DB) NewTable(name string) *Table {
	return &Table{
		db:      db,
		name:    name,
		columns: make(map[string]*Column),
	}
}
