package dbobj

import (
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"sync"
	"time"
)

// Mapper owns the per-type struct index cache used by Into.
// Use the package-level lazy getter (getMapper) or create your own in tests.
type Mapper struct {
	structIndexCache sync.Map // key: reflect.Type -> *fieldIndex (per T)
}

func NewMapper() *Mapper { return &Mapper{} }

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// Into copies the visible column values of m into a new T.
//
// T must be a struct. Fields bind by `db:"name"` first, otherwise by
// case-insensitive field name; `db:",inline"` and anonymous structs flatten.
// Columns without a matching field are ignored and fields without a column
// keep their zero value. Columns hidden by ExcludeGet are never copied.
//
//	type UserView struct {
//	    ID   int64  `db:"id"`
//	    Name string `db:"name"`
//	}
//	v, err := dbobj.Into[UserView](user)
func Into[T any](m Model) (out T, err error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if !isStruct(rt) || rt.Kind() == reflect.Pointer {
		return out, fmt.Errorf("dbobj: Into requires a struct type, got %s", rt)
	}
	idx := getMapper().structIndex(rt)
	root := reflect.ValueOf(&out).Elem()
	t := m.Row()
	for _, name := range t.order {
		v, ok := t.Get(name)
		if !ok {
			continue
		}
		fp, ok := idx.byName[toLowerAscii(name)]
		if !ok {
			continue
		}
		if err := assignValue(fieldByPathAlloc(root, fp), v); err != nil {
			return out, fmt.Errorf("dbobj: column %q: %w", name, err)
		}
	}
	return out, nil
}

// Field is a typed accessor for one registered column. Declare fields next
// to the table type so call sites never spell column names.
//
//	var userName = dbobj.NewField[string]("name")
//
//	name, ok := userName.Get(u)
//	userName.Set(u, "ada")
type Field[T any] struct {
	name string
}

func NewField[T any](name string) Field[T] { return Field[T]{name: name} }

func (f Field[T]) Name() string { return f.name }

// Get returns the visible value converted to T. It reports false for unknown
// or ExcludeGet columns, NULL values, and values that do not convert.
func (f Field[T]) Get(m Model) (T, bool) {
	var out T
	v, ok := m.Row().Get(f.name)
	if !ok || v == nil {
		return out, false
	}
	if err := assignValue(reflect.ValueOf(&out).Elem(), v); err != nil {
		return out, false
	}
	return out, true
}

// Set stores v through Table.Set, so ExcludeSet applies.
func (f Field[T]) Set(m Model, v T) { m.Row().Set(f.name, v) }

// ---------------- Struct indexing & tags ----------------

type fieldIndex struct {
	byName map[string][]int // lower-case column name -> index path
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	v, _ := m.structIndexCache.LoadOrStore(rt, &fi)
	return v.(*fieldIndex)
}

func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			path := append(append([]int(nil), base...), i)
			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isStruct(sf.Type) {
					walk(sf.Type, path, inline)
					continue
				}
			}
			if name == "" {
				name = sf.Name
			}
			lc := toLowerAscii(name)
			if _, ok := idx.byName[lc]; !ok {
				idx.byName[lc] = path
			}
		}
	}
	walk(rt, nil, false)
	return idx
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// ---------------- Value conversion ----------------

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// assignValue stores a driver-level value in dst, applying the conversions
// database/sql drivers make necessary: []byte→string, numeric widening,
// numeric text, named types and pointer allocation. nil zeroes dst.
func assignValue(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}
	if dst.Kind() == reflect.Pointer {
		v := reflect.New(dst.Type().Elem())
		if err := assignValue(v.Elem(), src); err != nil {
			return err
		}
		dst.Set(v)
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		switch s := src.(type) {
		case string:
			dst.SetString(s)
			return nil
		case []byte:
			dst.SetString(string(s))
			return nil
		case int64, int, int32, float64, bool:
			dst.SetString(fmt.Sprint(s))
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u, ok := src.(uint64); ok {
			if dst.OverflowUint(u) {
				return fmt.Errorf("value %d overflows %s", u, dst.Type())
			}
			dst.SetUint(u)
			return nil
		}
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(src)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil
	case reflect.Bool:
		switch s := src.(type) {
		case bool:
			dst.SetBool(s)
			return nil
		case []byte, string:
			b, err := strconv.ParseBool(textOf(s))
			if err != nil {
				return err
			}
			dst.SetBool(b)
			return nil
		default:
			n, err := toInt64(src)
			if err != nil {
				return err
			}
			dst.SetBool(n != 0)
			return nil
		}
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if s, ok := src.(string); ok {
				dst.SetBytes([]byte(s))
				return nil
			}
		}
	case reflect.Struct:
		if dst.Type() == timeType {
			if s, ok := src.([]byte); ok {
				tm, err := time.Parse(time.RFC3339Nano, string(s))
				if err != nil {
					return err
				}
				dst.Set(reflect.ValueOf(tm))
				return nil
			}
		}
	}
	if sv.Type().ConvertibleTo(dst.Type()) && sv.Kind() != reflect.String && dst.Kind() != reflect.String {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func textOf(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

// toInt64 accepts the integer shapes drivers return, including numeric text.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	}
	i, err := toInt64(v)
	return float64(i), err
}

// ---------------- Type helpers ----------------

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct }

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// fieldByPathAlloc walks fpath, allocating nil embedded pointers on the way.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
