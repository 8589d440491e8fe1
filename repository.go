package dbobj

import (
	"context"
	"fmt"
)

// Repository runs the statements that address a table type rather than one
// row: predicate queries, full loads, counts and the linear fetch cursor.
//
// The cursor belongs to the table type. Every Repository built for the same T
// and table name shares it, and starting a new fetch ends the previous one.
// Calls touching the cursor must not run concurrently.
type Repository[T Model] struct {
	db       *DB
	newRow   func(*DB) T
	identity string
}

// NewRepository returns the repository of the table type built by newRow.
//
//	users := dbobj.NewRepository(db, NewUser)
//	active, err := users.Where(ctx, "status = :s", dbobj.Params{"s": "active"})
func NewRepository[T Model](db *DB, newRow func(*DB) T) *Repository[T] {
	probe := newRow(db)
	return &Repository[T]{
		db:       db,
		newRow:   newRow,
		identity: fmt.Sprintf("%T:%s", probe, probe.Row().Name()),
	}
}

// Identity keys the repository's cursor on the Connector.
func (r *Repository[T]) Identity() string { return r.identity }

// New returns an empty row of the table type.
func (r *Repository[T]) New() T { return r.newRow(r.db) }

func (r *Repository[T]) probe() (*Table, error) {
	t := r.newRow(r.db).Row()
	return t, t.Err()
}

func (r *Repository[T]) fromRow(row Row) T {
	m := r.newRow(r.db)
	m.Row().load(row)
	return m
}

func (r *Repository[T]) selectSQL(where string) (string, error) {
	t, err := r.probe()
	if err != nil {
		return "", err
	}
	q := fmt.Sprintf("SELECT %s FROM %s", t.selectList(), t.Name())
	if where != "" {
		q += " WHERE " + where
	}
	return q, nil
}

func (r *Repository[T]) collect(ctx context.Context, q string, params Params) ([]T, error) {
	rows, err := r.db.conn.Query(ctx, q, params)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		out = append(out, r.fromRow(row))
	}
	return out, nil
}

// Where returns every row matching a SQL predicate. Only params are bound;
// the predicate text is trusted.
func (r *Repository[T]) Where(ctx context.Context, where string, params Params) ([]T, error) {
	q, err := r.selectSQL(where)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, q, params)
}

// LoadAll returns every row of the table.
func (r *Repository[T]) LoadAll(ctx context.Context) ([]T, error) {
	q, err := r.selectSQL("")
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, q, nil)
}

// FindByColumn returns the first row whose column name equals v.
func (r *Repository[T]) FindByColumn(ctx context.Context, name string, v any) (T, bool, error) {
	m := r.newRow(r.db)
	ok, err := m.Row().LoadFromColumn(ctx, name, v)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return m, true, nil
}

// FindByUniqueID returns the row whose unique column equals id.
func (r *Repository[T]) FindByUniqueID(ctx context.Context, id any) (T, bool, error) {
	m := r.newRow(r.db)
	ok, err := m.Row().LoadFromUniqueID(ctx, id)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return m, true, nil
}

// Count returns the number of rows, counting the unique column.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	t, err := r.probe()
	if err != nil {
		return 0, err
	}
	if t.unique == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.Name())
	}
	q := fmt.Sprintf("SELECT COUNT(%s) AS total FROM %s", t.unique.Name(), t.Name())
	rows, err := r.db.conn.Query(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, _ := rowValue(rows[0], "total")
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("dbobj: count %s: %w", t.Name(), err)
	}
	return n, nil
}
