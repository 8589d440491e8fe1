package dbobj

import (
	"context"
	"fmt"
)

// Relation loads the row a relation column points at.
//
// It reports false without a query when the column is unknown, has no
// relation target, or holds NULL. Otherwise it builds an empty row of the
// target type and loads it by the target's unique column, or by the column
// set with DefineRelationColumn. Nothing is cached: every call queries.
func (t *Table) Relation(ctx context.Context, name string) (Model, bool, error) {
	c, ok := t.columns[name]
	if !ok || c.Relation() == "" {
		return nil, false, nil
	}
	v := c.Value(false)
	if v == nil {
		return nil, false, nil
	}
	f, ok := t.db.factory(c.Relation())
	if !ok {
		return nil, false, fmt.Errorf("%w: %s.%s -> %s", ErrUnknownRelation, t.name, name, c.Relation())
	}
	target := f(t.db)
	tt := target.Row()
	if err := tt.Err(); err != nil {
		return nil, false, err
	}

	var found bool
	var err error
	if col := c.RelationColumn(); col == "" {
		found, err = tt.LoadFromUniqueID(ctx, v)
	} else {
		tt.Set(col, v)
		found, err = tt.LoadFromColumn(ctx, col, v)
	}
	if err != nil || !found {
		return nil, false, err
	}
	return target, true, nil
}

// RelationAs is Relation for a known target type.
//
//	team, ok, err := dbobj.RelationAs[*Team](ctx, user, "team_id")
func RelationAs[T Model](ctx context.Context, m Model, name string) (T, bool, error) {
	var zero T
	target, ok, err := m.Row().Relation(ctx, name)
	if err != nil || !ok {
		return zero, false, err
	}
	out, ok := target.(T)
	if !ok {
		return zero, false, fmt.Errorf("dbobj: relation %s.%s is %T, not %T", m.Row().Name(), name, target, zero)
	}
	return out, true, nil
}
