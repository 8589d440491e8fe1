package dbobj

import (
	"context"
	"fmt"
)

// StartAll opens the linear fetch cursor over every row of the table, ending
// any cursor the table type already has open.
//
// Use it instead of LoadAll when the result set is too large to hold:
//
//	if err := users.StartAll(ctx); err != nil {
//	    return err
//	}
//	defer users.End()
//	for {
//	    u, ok, err := users.Next(ctx, false)
//	    if err != nil || !ok {
//	        return err
//	    }
//	    // use u
//	}
func (r *Repository[T]) StartAll(ctx context.Context) error {
	q, err := r.selectSQL("")
	if err != nil {
		return err
	}
	return r.StartCustom(ctx, q, nil)
}

// StartWhere is StartAll restricted by a SQL predicate.
func (r *Repository[T]) StartWhere(ctx context.Context, where string, params Params) error {
	q, err := r.selectSQL(where)
	if err != nil {
		return err
	}
	return r.StartCustom(ctx, q, params)
}

// StartCustom opens the cursor over an arbitrary query. Rows are matched to
// columns by name, so the projection may be partial; combine with
// Next(ctx, true) to fetch complete rows.
func (r *Repository[T]) StartCustom(ctx context.Context, query string, params Params) error {
	conn := r.db.conn
	if conn.CursorOpen(r.identity) {
		if err := conn.EndCursor(r.identity); err != nil {
			r.db.log.WarnContext(ctx, "dbobj: closing superseded cursor", "identity", r.identity, "err", err)
		}
	}
	return conn.StartCursor(ctx, r.identity, query, params)
}

// Next advances the cursor by one row. It reports false when the cursor is
// exhausted or was never started.
//
// With byUniqueID, the row is re-read by its unique id instead of being built
// from the cursor row. Rows that disappear before the re-read are skipped. A
// cursor row without a unique id value fails with ErrMissingUniqueValue.
func (r *Repository[T]) Next(ctx context.Context, byUniqueID bool) (T, bool, error) {
	var zero T
	conn := r.db.conn
	if !conn.CursorOpen(r.identity) {
		return zero, false, nil
	}
	var uniq string
	if byUniqueID {
		t, err := r.probe()
		if err != nil {
			return zero, false, err
		}
		if t.unique == nil {
			return zero, false, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.Name())
		}
		uniq = t.unique.Name()
	}
	for {
		row, ok, err := conn.NextRow(ctx, r.identity)
		if err != nil || !ok {
			return zero, false, err
		}
		if !byUniqueID {
			return r.fromRow(row), true, nil
		}
		id, ok := rowValue(row, uniq)
		if !ok || id == nil {
			return zero, false, fmt.Errorf("%w: cursor row has no %s value", ErrMissingUniqueValue, uniq)
		}
		m, found, err := r.FindByUniqueID(ctx, id)
		if err != nil {
			return zero, false, err
		}
		if found {
			return m, true, nil
		}
		r.db.log.DebugContext(ctx, "dbobj: cursor row vanished before re-read", "identity", r.identity, "id", id)
	}
}

// End releases the cursor. Ending twice is harmless.
func (r *Repository[T]) End() error {
	return r.db.conn.EndCursor(r.identity)
}

// Each streams every row matching where (all rows when where is empty)
// through fn, ending the cursor on return. A non-nil error from fn stops
// the stream and is returned.
func (r *Repository[T]) Each(ctx context.Context, where string, params Params, fn func(T) error) (err error) {
	if err := r.StartWhere(ctx, where, params); err != nil {
		return err
	}
	defer func() {
		if eerr := r.End(); eerr != nil && err == nil {
			err = eerr
		}
	}()
	for {
		m, ok, err := r.Next(ctx, false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}
