package dbobj

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// LoadFromColumn loads the first row whose column name equals v.
//
// It reports false, without touching t, when name is not registered or no
// row matches. v is bound as given, so pass the stored form for Serialize
// columns.
func (t *Table) LoadFromColumn(ctx context.Context, name string, v any) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	if _, ok := t.columns[name]; !ok {
		return false, nil
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = :val LIMIT 1", t.selectList(), t.name, name)
	rows, err := t.db.conn.Query(ctx, q, Params{"val": v})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	t.load(rows[0])
	return true, nil
}

// LoadFromUniqueID loads the row whose unique column equals id.
func (t *Table) LoadFromUniqueID(ctx context.Context, id any) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	if t.unique == nil {
		return false, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.name)
	}
	return t.LoadFromColumn(ctx, t.unique.Name(), id)
}

// load installs a result row as the clean, loaded state of t.
func (t *Table) load(r Row) {
	t.LoadRow(r)
	for _, c := range t.columns {
		c.clearChanged()
	}
	t.state = StateLoaded
}

// Insert writes every column whose stored value is non-NULL; NULL columns are
// left out so the database default applies. When a unique column is
// registered, the database-assigned identity is written back into it, even if
// the column was part of the insert.
//
// It reports whether a row was inserted.
func (t *Table) Insert(ctx context.Context) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	var names, marks []string
	params := Params{}
	for _, name := range t.order {
		c := t.columns[name]
		if v := c.Value(true); v != nil {
			names = append(names, name)
			marks = append(marks, ":"+name)
			params[name] = v
		}
	}
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", t.name, strings.Join(names, ", "), strings.Join(marks, ", "))
	res, err := t.db.conn.Exec(ctx, q, params)
	if err != nil {
		return false, err
	}
	if t.unique != nil {
		id, err := res.LastInsertId()
		if err != nil {
			t.db.log.WarnContext(ctx, "dbobj: insert identity unavailable",
				"table", t.name, "column", t.unique.Name(), "err", err)
		} else {
			t.ForceSet(t.unique.Name(), id, false)
		}
	}
	for _, c := range t.columns {
		c.clearChanged()
	}
	t.state = StateLoaded
	return affected(res), nil
}

// Update writes every column not flagged ExcludeUpdate to the row identified
// by the unique column. Values are bound in stored form.
//
// It fails with ErrNoUniqueColumn or ErrNothingToUpdate when the table type
// is declared without a unique column or without updatable columns.
func (t *Table) Update(ctx context.Context) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	if t.unique == nil {
		return false, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.name)
	}
	var cols []*Column
	for _, name := range t.order {
		if c := t.columns[name]; !c.Flags().Has(ExcludeUpdate) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return false, fmt.Errorf("%w: %s", ErrNothingToUpdate, t.name)
	}
	return t.updateColumns(ctx, cols)
}

// UpdateChanged is Update restricted to updatable columns that changed since
// the row was loaded or last written. With nothing changed it issues no
// statement and reports false.
func (t *Table) UpdateChanged(ctx context.Context) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	if t.unique == nil {
		return false, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.name)
	}
	var cols []*Column
	for _, name := range t.order {
		if c := t.columns[name]; c.Changed() && !c.Flags().Has(ExcludeUpdate) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return false, nil
	}
	return t.updateColumns(ctx, cols)
}

// UpdateColumn writes a single column. It reports false without a statement
// when the column is unknown or flagged ExcludeUpdate.
func (t *Table) UpdateColumn(ctx context.Context, name string) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	c, ok := t.columns[name]
	if !ok || c.Flags().Has(ExcludeUpdate) {
		return false, nil
	}
	if t.unique == nil {
		return false, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.name)
	}
	return t.updateColumns(ctx, []*Column{c})
}

func (t *Table) updateColumns(ctx context.Context, cols []*Column) (bool, error) {
	sets := make([]string, 0, len(cols))
	params := Params{uniqueParam: t.unique.Value(true)}
	for _, c := range cols {
		sets = append(sets, c.Name()+" = :"+c.Name())
		params[c.Name()] = c.Value(true)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s", t.name, strings.Join(sets, ", "), t.unique.Name(), uniqueParam)
	res, err := t.db.conn.Exec(ctx, q, params)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		c.clearChanged()
	}
	t.state = StateUpdated
	return affected(res), nil
}

// Delete removes the row identified by the unique column.
//
// Every column is reset to NULL afterwards, also when the statement fails or
// matches no row; callers that need the old values must copy them first.
func (t *Table) Delete(ctx context.Context) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	if t.unique == nil {
		return false, fmt.Errorf("%w: %s", ErrNoUniqueColumn, t.name)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = :%s", t.name, t.unique.Name(), uniqueParam)
	res, err := t.db.conn.Exec(ctx, q, Params{uniqueParam: t.unique.Value(true)})
	t.Reset()
	t.state = StateDeleted
	if err != nil {
		t.db.log.WarnContext(ctx, "dbobj: delete failed, row values reset", "table", t.name, "err", err)
		return false, err
	}
	ok := affected(res)
	if !ok {
		t.db.log.DebugContext(ctx, "dbobj: delete matched no row, row values reset", "table", t.name)
	}
	return ok, nil
}

// affected reports whether res touched a row. Drivers that cannot count
// affected rows are taken at their word that the statement succeeded.
func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	if err != nil {
		return true
	}
	return n > 0
}
