package dbobj

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
)

// Flag controls how a column takes part in reads, writes and updates.
// The bit values are stable and may be persisted.
type Flag uint8

const (
	// ExcludeGet hides the column from Table.Get.
	ExcludeGet Flag = 1 << iota
	// ExcludeSet drops Table.Set calls once the column holds its first value.
	ExcludeSet
	// ExcludeUpdate keeps the column out of UPDATE statements.
	ExcludeUpdate
	// UniqueID marks the table's row identifier.
	UniqueID
	// Serialize stores structured values as encoded text.
	Serialize
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{ExcludeGet, "exclude_get"},
	{ExcludeSet, "exclude_set"},
	{ExcludeUpdate, "exclude_update"},
	{UniqueID, "unique_id"},
	{Serialize, "serialize"},
}

// Has reports whether every bit of want is set in f.
func (f Flag) Has(want Flag) bool { return f&want == want }

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlag maps a flag name as printed by Flag.String back to its bit.
func ParseFlag(name string) (Flag, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.f, true
		}
	}
	return 0, false
}

// Column is the metadata and current value of one column of one row.
//
// The stored value is what goes to and comes from the database. With the
// Serialize flag, Value decodes it on the way out and SetValue encodes on the
// way in, unless ignoreFlags asks for the stored form.
type Column struct {
	name           string
	flags          Flag
	value          any
	needsInitial   bool
	changed        bool
	relation       string
	relationColumn string
}

// NewColumn returns a column that has not received a value yet.
func NewColumn(name string, flags Flag) *Column {
	return &Column{name: name, flags: flags, needsInitial: true}
}

func (c *Column) Name() string     { return c.name }
func (c *Column) Flags() Flag      { return c.flags }
func (c *Column) Changed() bool    { return c.changed }
func (c *Column) Relation() string { return c.relation }

// RelationColumn is the column of the relation target used for lookups.
// Empty means the target's unique column.
func (c *Column) RelationColumn() string { return c.relationColumn }

// NeedsInitialValue reports whether SetValue has never been called.
func (c *Column) NeedsInitialValue() bool { return c.needsInitial }

// Value returns the visible value. With Serialize set and ignoreFlags false, a
// non-nil stored value is decoded first.
func (c *Column) Value(ignoreFlags bool) any {
	if !ignoreFlags && c.flags.Has(Serialize) && c.value != nil {
		return DeserializeValue(c.value)
	}
	return c.value
}

// SetValue stores v, encoding it when Serialize applies. It marks the column
// changed when v differs from the current value. Serialize columns compare
// stored forms, so re-setting an equal value of another Go type is no change.
func (c *Column) SetValue(v any, ignoreFlags bool) {
	stored := v
	if !ignoreFlags && c.flags.Has(Serialize) {
		stored = SerializeValue(v)
	}
	if c.flags.Has(Serialize) {
		if !sameStored(stored, c.value) {
			c.changed = true
		}
	} else if !reflect.DeepEqual(v, c.value) {
		c.changed = true
	}
	c.value = stored
	c.needsInitial = false
}

// sameStored compares stored forms, treating string and []byte text alike.
func sameStored(a, b any) bool {
	if ta, ok := textValue(a); ok {
		if tb, ok := textValue(b); ok {
			return ta == tb
		}
	}
	return reflect.DeepEqual(a, b)
}

func textValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}

// SetRelation points the column at a relation target registered on the DB.
func (c *Column) SetRelation(target string) { c.relation = target }

// SetRelationColumn selects the target column matched against this column's value.
func (c *Column) SetRelationColumn(name string) { c.relationColumn = name }

// Decode unmarshals the serialized stored value into dst. A nil stored value
// leaves dst untouched.
func (c *Column) Decode(dst any) error {
	if c.value == nil {
		return nil
	}
	raw, err := decodeText(c.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (c *Column) clearChanged() { c.changed = false }

// SerializeValue encodes a map, slice or array as base64-wrapped JSON text.
// Any other input, including []byte, yields nil.
func SerializeValue(v any) any {
	if v == nil {
		return nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Array:
	case reflect.Slice:
		if _, ok := v.([]byte); ok {
			return nil
		}
	default:
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DeserializeValue reverses SerializeValue. Input that is neither string nor
// []byte, or that does not decode, yields nil. Objects come back as
// map[string]any and arrays as []any. Integral numbers that fit come back as
// int64, every other number as float64.
func DeserializeValue(v any) any {
	raw, err := decodeText(v)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return fromJSONNumbers(out)
}

func fromJSONNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = fromJSONNumbers(e)
		}
	}
	return v
}

var errNotText = errors.New("dbobj: serialized value is not text")

func decodeText(v any) ([]byte, error) {
	s, ok := textValue(v)
	if !ok {
		return nil, errNotText
	}
	return base64.StdEncoding.DecodeString(s)
}
