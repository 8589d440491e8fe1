// Package dynamic builds table types from configuration instead of Go code.
package dynamic

import (
	"fmt"

	"github.com/go-mizu/dbobj"
	"github.com/go-mizu/dbobj/internal/config"
)

// Record is a row of a table type declared in configuration.
type Record struct{ *dbobj.Table }

// Constructor builds an empty Record of one configured table.
type Constructor func(*dbobj.DB) *Record

// Register declares every table on db, relation targets included, and returns
// the constructors by table name. Each table is built once to surface
// declaration errors early.
func Register(db *dbobj.DB, tables []config.Table) (map[string]Constructor, error) {
	out := make(map[string]Constructor, len(tables))
	for _, tc := range tables {
		ctor := constructor(tc)
		if err := dbobj.RegisterModel(db, tc.Name, ctor); err != nil {
			return nil, err
		}
		out[tc.Name] = ctor
	}
	for name, ctor := range out {
		if err := ctor(db).Err(); err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
	}
	return out, nil
}

func constructor(tc config.Table) Constructor {
	return func(db *dbobj.DB) *Record {
		t := db.NewTable(tc.Name)
		for _, cc := range tc.Columns {
			flags, err := cc.FlagSet()
			if err != nil {
				// Validate reports this; keep the column so the row stays usable.
				flags = 0
			}
			c := dbobj.NewColumn(cc.Name, flags)
			if cc.Relation != "" {
				c.SetRelation(cc.Relation)
				c.SetRelationColumn(cc.RelationColumn)
			}
			_ = t.AddColumn(c) // kept on t.Err
		}
		return &Record{Table: t}
	}
}
