package dbobj

import (
	"fmt"
	"strings"
)

// uniqueParam names the WHERE parameter of single-row writes. It is reserved
// so it can never collide with a SET parameter.
const uniqueParam = "dbobj_uid"

// State is where a row is in its lifecycle: New, then Loaded after a load or
// insert, then Updated or Deleted. A Deleted row holds only NULLs and is
// used like a New one: it can be filled, inserted or loaded again. Columns
// flagged ExcludeSet count as already set.
type State uint8

const (
	StateNew State = iota
	StateLoaded
	StateUpdated
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateUpdated:
		return "updated"
	case StateDeleted:
		return "deleted"
	default:
		return "new"
	}
}

// Table is one in-memory row of a table type: its registered columns with
// their current values. Table types embed *Table and register columns in
// their constructor.
//
// A Table is not safe for concurrent use.
type Table struct {
	db      *DB
	name    string
	columns map[string]*Column
	order   []string
	unique  *Column
	state   State
	err     error
}

// Row returns t, which lets any struct embedding *Table satisfy Model.
func (t *Table) Row() *Table { return t }

func (t *Table) Name() string { return t.name }
func (t *Table) DB() *DB      { return t.db }
func (t *Table) State() State { return t.state }

// Err returns the first registration error. Every statement-issuing method
// returns it before touching the database.
func (t *Table) Err() error { return t.err }

// Columns returns the column names in declaration order.
func (t *Table) Columns() []string { return append([]string(nil), t.order...) }

// Column returns the descriptor registered under name.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.columns[name]
	return c, ok
}

// UniqueColumn returns the column flagged UniqueID, if any.
func (t *Table) UniqueColumn() (*Column, bool) { return t.unique, t.unique != nil }

// AddColumn registers c. It fails on a duplicate name, a second UniqueID
// column, a name unusable as a :named parameter, or a relation target the DB
// does not know.
func (t *Table) AddColumn(c *Column) error {
	if err := t.addColumn(c); err != nil {
		if t.err == nil {
			t.err = err
		}
		return err
	}
	return nil
}

func (t *Table) addColumn(c *Column) error {
	name := c.Name()
	if !validIdent(name) || strings.EqualFold(name, uniqueParam) {
		return fmt.Errorf("%w: %s.%q", ErrInvalidColumnName, t.name, name)
	}
	if _, dup := t.columns[name]; dup {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, t.name, name)
	}
	if c.Flags().Has(UniqueID) && t.unique != nil {
		return fmt.Errorf("%w: %s.%s (already %s)", ErrDuplicateUniqueColumn, t.name, name, t.unique.Name())
	}
	if rel := c.Relation(); rel != "" {
		if t.db == nil {
			return fmt.Errorf("%w: %s.%s -> %s (no DB)", ErrUnknownRelation, t.name, name, rel)
		}
		if _, ok := t.db.factory(rel); !ok {
			return fmt.Errorf("%w: %s.%s -> %s", ErrUnknownRelation, t.name, name, rel)
		}
	}
	t.columns[name] = c
	t.order = append(t.order, name)
	if c.Flags().Has(UniqueID) {
		t.unique = c
	}
	return nil
}

// Define registers a plain column.
func (t *Table) Define(name string, flags Flag) error {
	return t.AddColumn(NewColumn(name, flags))
}

// DefineRelation registers a column whose value is the unique id of a row of
// the relation target.
func (t *Table) DefineRelation(name string, flags Flag, target string) error {
	c := NewColumn(name, flags)
	c.SetRelation(target)
	return t.AddColumn(c)
}

// DefineRelationColumn registers a column whose value matches targetColumn of
// a row of the relation target.
func (t *Table) DefineRelationColumn(name string, flags Flag, target, targetColumn string) error {
	c := NewColumn(name, flags)
	c.SetRelation(target)
	c.SetRelationColumn(targetColumn)
	return t.AddColumn(c)
}

// Get returns the visible value of a column. It reports false for unknown
// columns and columns flagged ExcludeGet.
func (t *Table) Get(name string) (any, bool) {
	c, ok := t.columns[name]
	if !ok || c.Flags().Has(ExcludeGet) {
		return nil, false
	}
	return c.Value(false), true
}

// Set stores v in a column. Unknown columns are ignored. A column flagged
// ExcludeSet takes its first value and silently drops every later Set.
func (t *Table) Set(name string, v any) {
	c, ok := t.columns[name]
	if !ok {
		return
	}
	if c.Flags().Has(ExcludeSet) && !c.NeedsInitialValue() {
		return
	}
	c.SetValue(v, false)
}

// ForceSet stores v regardless of ExcludeSet. With ignoreFlags, v is stored
// as-is instead of being serialized.
func (t *Table) ForceSet(name string, v any, ignoreFlags bool) {
	if c, ok := t.columns[name]; ok {
		c.SetValue(v, ignoreFlags)
	}
}

// Decode unmarshals a Serialize column into dst. See Column.Decode.
func (t *Table) Decode(name string, dst any) error {
	c, ok := t.columns[name]
	if !ok || c.Flags().Has(ExcludeGet) {
		return fmt.Errorf("dbobj: column %s.%s is not readable", t.name, name)
	}
	return c.Decode(dst)
}

// RowMap snapshots every column's visible value. Iterate Columns for
// declaration order. ExcludeGet does not apply here.
func (t *Table) RowMap() Row {
	r := make(Row, len(t.order))
	for _, name := range t.order {
		r[name] = t.columns[name].Value(false)
	}
	return r
}

// LoadRow stores the stored-form values of r in the matching columns,
// bypassing ExcludeSet and serialization. Keys match exactly, falling back to
// a case-insensitive match for drivers that fold column names.
func (t *Table) LoadRow(r Row) {
	for key, v := range r {
		c, ok := t.columns[key]
		if !ok {
			c = t.columnFold(key)
		}
		if c != nil {
			c.SetValue(v, true)
		}
	}
}

func (t *Table) columnFold(key string) *Column {
	for _, name := range t.order {
		if strings.EqualFold(name, key) {
			return t.columns[name]
		}
	}
	return nil
}

// Reset sets every column to NULL.
func (t *Table) Reset() {
	for _, name := range t.order {
		t.columns[name].SetValue(nil, true)
	}
}

// Changed returns the names of columns whose value changed since they were
// loaded or last written, in declaration order.
func (t *Table) Changed() []string {
	var out []string
	for _, name := range t.order {
		if t.columns[name].Changed() {
			out = append(out, name)
		}
	}
	return out
}

func (t *Table) selectList() string { return strings.Join(t.order, ", ") }

// rowValue reads a result column by registered name, tolerating case folding.
func rowValue(r Row, name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
