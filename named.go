// named.go
package dbobj

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder selects the positional parameter style of the target database.
// Table code always writes :named parameters; the connector rewrites them.
//
//   - PlaceholderQuestion   → "?"           (MySQL, SQLite, DuckDB, ClickHouse)
//   - PlaceholderDollar     → "$1, $2, …"  (PostgreSQL)
//   - PlaceholderAtP        → "@p1, @p2…"  (SQL Server)
//   - PlaceholderColonNum   → ":1, :2, …"  (Oracle)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// Params holds named statement parameters, keyed without the leading colon.
// A nil value binds as SQL NULL.
type Params map[string]any

// ErrNilParams is returned when binding is requested with a nil struct pointer.
var ErrNilParams = errors.New("dbobj: named bind: nil params")

// ErrUnsupportedArg is returned when params is neither a struct nor a map with string keys.
var ErrUnsupportedArg = errors.New("dbobj: named bind: params must be struct or map[string]any")

// ErrDuplicateKeyTag is returned when two struct fields resolve to the same
// parameter name (case-insensitive).
var ErrDuplicateKeyTag = errors.New("dbobj: named bind: duplicate key from struct tags/fields")

// Rebind resolves :named parameters against params and rewrites the result into
// the placeholder style ph.
//
// params may be Params, any map with string keys, or a struct (fields bind by
// `db:"name"` tag, else by field name). Names match case-insensitively.
// Slices and arrays expand into a comma list; []byte stays scalar; an empty
// slice becomes NULL so `IN (:ids)` matches nothing.
//
//	q, args, err := dbobj.Rebind(
//	    `SELECT id FROM users WHERE status = :status AND id IN (:ids)`,
//	    dbobj.PlaceholderDollar,
//	    dbobj.Params{"status": "active", "ids": []int{1, 2, 3}},
//	)
//	// q    => SELECT id FROM users WHERE status = $1 AND id IN ($2,$3,$4)
//	// args => ["active", 1, 2, 3]
//
// A nil params value skips named resolution and only rewrites "?" markers.
// Quoted strings, comments, PostgreSQL casts and $tag$ blocks are left alone.
func Rebind(query string, ph Placeholder, params any) (string, []any, error) {
	var args []any
	if params != nil {
		var err error
		query, args, err = bindNamedParams(query, params)
		if err != nil {
			return "", nil, err
		}
	}
	out, err := rewritePlaceholders(query, ph)
	if err != nil {
		return "", nil, err
	}
	return out, args, nil
}

// PlaceholderFor picks a Placeholder from a database/sql driver name.
//
//	dbobj.PlaceholderFor("pgx")       // PlaceholderDollar
//	dbobj.PlaceholderFor("sqlserver") // PlaceholderAtP
//	dbobj.PlaceholderFor("mysql")     // PlaceholderQuestion
func PlaceholderFor(driverName string) Placeholder {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "lib/pq", "pg":
		return PlaceholderDollar
	case "sqlserver", "mssql":
		return PlaceholderAtP
	case "godror", "oracle", "goracle":
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

// ParsePlaceholder accepts the style names used in configuration files.
func ParsePlaceholder(name string) (Placeholder, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "question", "?":
		return PlaceholderQuestion, true
	case "dollar", "$":
		return PlaceholderDollar, true
	case "atp", "@p":
		return PlaceholderAtP, true
	case "colon", "colonnum", ":":
		return PlaceholderColonNum, true
	}
	return 0, false
}

// validIdent reports whether name can follow a colon as a bind marker.
func validIdent(name string) bool {
	if name == "" {
		return false
	}
	ident, end := parseIdent(name, 0)
	return ident != "" && end == len(name)
}

type tokenKind uint8

const (
	tokNamed    tokenKind = iota + 1 // :name
	tokQuestion                      // ?
)

type sqlToken struct {
	kind  tokenKind
	name  string
	start int
	end   int
}

// lexBindMarkers returns every bind marker in query that sits outside quotes,
// comments and dollar-quoted blocks.
func lexBindMarkers(query string) ([]sqlToken, error) {
	var out []sqlToken
	i := 0
	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		var (
			j   int
			err error
		)
		switch {
		case r == '\'' || r == '"' || r == '`':
			j, err = skipQuoted(query, i+w, byte(r))
		case r == '-' && hasPrefix(query[i:], "--"):
			j = skipLineComment(query, i+2)
		case r == '/' && hasPrefix(query[i:], "/*"):
			j, err = skipBlockComment(query, i+2)
		case r == '$':
			var ok bool
			j, ok, err = skipDollarQuoted(query, i)
			if !ok && err == nil {
				j = i + w
			}
		case r == ':' && hasPrefix(query[i:], "::"):
			j = i + 2 // PostgreSQL cast
		case r == ':':
			name, end := parseIdent(query, i+1)
			if name == "" {
				j = i + w
				break
			}
			out = append(out, sqlToken{kind: tokNamed, name: name, start: i, end: end})
			j = end
		case r == '?':
			out = append(out, sqlToken{kind: tokQuestion, start: i, end: i + w})
			j = i + w
		default:
			j = i + w
		}
		if err != nil {
			return nil, err
		}
		i = j
	}
	return out, nil
}

func bindNamedParams(query string, params any) (string, []any, error) {
	toks, err := lexBindMarkers(query)
	if err != nil {
		return "", nil, err
	}

	var lut *paramLookup
	var b strings.Builder
	b.Grow(len(query))
	args := make([]any, 0, len(toks))
	last := 0

	for _, t := range toks {
		if t.kind != tokNamed {
			continue
		}
		if lut == nil {
			if lut, err = buildParamLookup(params); err != nil {
				return "", nil, err
			}
		}
		b.WriteString(query[last:t.start])

		val, ok := lut.lookup(t.name)
		if !ok {
			return "", nil, fmt.Errorf("dbobj: named bind: missing value for :%s", t.name)
		}

		rv := reflect.ValueOf(val)
		if isSliceOrArray(rv) {
			n := rv.Len()
			if n == 0 {
				b.WriteString("NULL")
			}
			for i := 0; i < n; i++ {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteByte('?')
				args = append(args, rv.Index(i).Interface())
			}
		} else {
			b.WriteByte('?')
			args = append(args, val)
		}
		last = t.end
	}
	if lut == nil {
		return query, nil, nil
	}
	b.WriteString(query[last:])
	return b.String(), args, nil
}

func rewritePlaceholders(query string, ph Placeholder) (string, error) {
	if ph == PlaceholderQuestion {
		return query, nil
	}
	toks, err := lexBindMarkers(query)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(query)+16)
	last, arg := 0, 1
	for _, t := range toks {
		if t.kind != tokQuestion {
			continue
		}
		out = append(out, query[last:t.start]...)
		switch ph {
		case PlaceholderDollar:
			out = append(out, '$')
		case PlaceholderAtP:
			out = append(out, '@', 'p')
		case PlaceholderColonNum:
			out = append(out, ':')
		}
		out = strconv.AppendInt(out, int64(arg), 10)
		arg++
		last = t.end
	}
	out = append(out, query[last:]...)
	return string(out), nil
}

// skipQuoted consumes a quoted run opened by q; doubled quotes are escapes.
func skipQuoted(s string, i int, q byte) (int, error) {
	for i < len(s) {
		c := s[i]
		i++
		if c == q {
			if i < len(s) && s[i] == q {
				i++
				continue
			}
			return i, nil
		}
	}
	switch q {
	case '\'':
		return 0, fmt.Errorf("dbobj: unterminated single-quoted string")
	case '"':
		return 0, fmt.Errorf("dbobj: unterminated double-quoted identifier")
	default:
		return 0, fmt.Errorf("dbobj: unterminated backtick-quoted identifier")
	}
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, i int) (int, error) {
	if j := strings.Index(s[i:], "*/"); j >= 0 {
		return i + j + 2, nil
	}
	return 0, fmt.Errorf("dbobj: unterminated block comment")
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ (PostgreSQL).
func skipDollarQuoted(s string, i int) (int, bool, error) {
	j := i + 1
	for j < len(s) && s[j] != '$' && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	idx := strings.Index(s[j+1:], tag)
	if idx < 0 {
		return 0, true, fmt.Errorf("dbobj: unterminated dollar-quoted string")
	}
	return j + 1 + idx + len(tag), true, nil
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			break
		}
		i += w
	}
	if i == start {
		return "", i
	}
	return s[start:i], i
}

type paramLookup struct {
	m map[string]any // lowercase name -> value
}

func (l *paramLookup) lookup(name string) (any, bool) {
	v, ok := l.m[strings.ToLower(name)]
	return v, ok
}

func buildParamLookup(params any) (*paramLookup, error) {
	if p, ok := params.(Params); ok {
		m := make(map[string]any, len(p))
		for k, v := range p {
			m[strings.ToLower(k)] = v
		}
		return &paramLookup{m: m}, nil
	}
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[strings.ToLower(iter.Key().String())] = iter.Value().Interface()
		}
		return &paramLookup{m: m}, nil
	case reflect.Struct:
		m := make(map[string]any)
		if err := addStructFields(m, rv); err != nil {
			return nil, err
		}
		return &paramLookup{m: m}, nil
	default:
		return nil, ErrUnsupportedArg
	}
}

// addStructFields flattens embedded structs and honours `db:"-"`.
func addStructFields(dst map[string]any, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue
		}
		name, inline, omit := parseTag(f.Tag.Get("db"))
		if omit {
			continue
		}
		if f.Anonymous || inline {
			fv := v.Field(i)
			for fv.Kind() == reflect.Pointer && !fv.IsNil() {
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				if err := addStructFields(dst, fv); err != nil {
					return err
				}
				continue
			}
			if fv.Kind() == reflect.Pointer {
				continue // nil embedded pointer
			}
		}
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(name)
		if _, exists := dst[key]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateKeyTag, key)
		}
		dst[key] = v.Field(i).Interface()
	}
	return nil
}

func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8 // []byte → scalar
	case reflect.Array:
		return true
	default:
		return false
	}
}
