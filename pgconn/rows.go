package pgconn

import (
	"strconv"

	"github.com/mevdschee/chopin/pgwire"
)

// Well-known type OIDs used by the typed accessors below. The driver
// never needs the full pg_type catalog: only enough to decode the
// handful of scalar types a collaborator is likely to bind or read.
const (
	oidBool    = 16
	oidInt8    = 20
	oidInt2    = 21
	oidInt4    = 23
	oidText    = 25
	oidFloat4  = 700
	oidFloat8  = 701
	oidVarchar = 1043
	oidBytea   = 17
)

// Row is one decoded DataRow paired with the RowDescription that gives
// its columns names and types. Values are text-format wire bytes;
// accessors parse on demand rather than eagerly, since most columns in
// a wide result set are usually never read by the caller.
type Row struct {
	cols   []pgwire.ColumnDescriptor
	values [][]byte
}

// Rows is a forward-only cursor over the result of a query, built from
// the RowDescription/DataRow/CommandComplete sequence of either the
// Simple or Extended query flow.
type Rows struct {
	cols   []pgwire.ColumnDescriptor
	rows   [][][]byte
	pos    int
	tag    string
	closed bool
}

// Columns reports the result set's column descriptors.
func (r *Rows) Columns() []pgwire.ColumnDescriptor { return r.cols }

// Next advances to the next row, returning false when the result set is
// exhausted.
func (r *Rows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

// Row returns the current row. Call only after a Next that returned
// true.
func (r *Rows) Row() *Row {
	return &Row{cols: r.cols, values: r.rows[r.pos-1]}
}

// CommandTag returns the server's CommandComplete tag (e.g. "SELECT 3"),
// valid once the cursor is exhausted.
func (r *Rows) CommandTag() string { return r.tag }

// Close releases the Rows. Extended-query portals are already fully
// drained by the time Rows is returned (see Conn.Query), so Close is a
// no-op kept for symmetry with the Go SQL ecosystem's idiom of always
// closing a cursor.
func (r *Rows) Close() { r.closed = true }

func (r *Row) find(name string) ([]byte, *pgwire.ColumnDescriptor, bool) {
	for i, c := range r.cols {
		if c.Name == name {
			return r.values[i], &r.cols[i], true
		}
	}
	return nil, nil, false
}

// ColumnCount reports the number of columns in the row.
func (r *Row) ColumnCount() int { return len(r.cols) }

// IsNull reports whether the named column is SQL NULL.
func (r *Row) IsNull(name string) bool {
	v, _, ok := r.find(name)
	return !ok || v == nil
}

// IsNullAt reports whether the column at index i (0-based) is SQL NULL.
func (r *Row) IsNullAt(i int) bool {
	return i < 0 || i >= len(r.values) || r.values[i] == nil
}

// TextAt returns the column at index i as its raw text-format string.
func (r *Row) TextAt(i int) (string, error) {
	if i < 0 || i >= len(r.values) {
		return "", &TypeConversionError{Target: "text"}
	}
	if r.values[i] == nil {
		return "", nil
	}
	return string(r.values[i]), nil
}

// Int4At parses the column at index i as a 32-bit integer.
func (r *Row) Int4At(i int) (int32, error) {
	if i < 0 || i >= len(r.values) || r.values[i] == nil {
		return 0, &TypeConversionError{Target: "int4"}
	}
	n, err := strconv.ParseInt(string(r.values[i]), 10, 32)
	if err != nil {
		return 0, &TypeConversionError{Target: "int4", Value: r.values[i]}
	}
	return int32(n), nil
}

// Int8At parses the column at index i as a 64-bit integer.
func (r *Row) Int8At(i int) (int64, error) {
	if i < 0 || i >= len(r.values) || r.values[i] == nil {
		return 0, &TypeConversionError{Target: "int8"}
	}
	n, err := strconv.ParseInt(string(r.values[i]), 10, 64)
	if err != nil {
		return 0, &TypeConversionError{Target: "int8", Value: r.values[i]}
	}
	return n, nil
}

// Float8At parses the column at index i as a float64.
func (r *Row) Float8At(i int) (float64, error) {
	if i < 0 || i >= len(r.values) || r.values[i] == nil {
		return 0, &TypeConversionError{Target: "float8"}
	}
	f, err := strconv.ParseFloat(string(r.values[i]), 64)
	if err != nil {
		return 0, &TypeConversionError{Target: "float8", Value: r.values[i]}
	}
	return f, nil
}

// BoolAt parses the column at index i as a Postgres text-format boolean
// ("t" or "f").
func (r *Row) BoolAt(i int) (bool, error) {
	if i < 0 || i >= len(r.values) || r.values[i] == nil {
		return false, &TypeConversionError{Target: "bool"}
	}
	switch string(r.values[i]) {
	case "t":
		return true, nil
	case "f":
		return false, nil
	default:
		return false, &TypeConversionError{Target: "bool", Value: r.values[i]}
	}
}

// ByteaAt decodes the column at index i from Postgres's "\x"-prefixed
// hex bytea text format.
func (r *Row) ByteaAt(i int) ([]byte, error) {
	if i < 0 || i >= len(r.values) {
		return nil, &TypeConversionError{Target: "bytea"}
	}
	v := r.values[i]
	if v == nil {
		return nil, nil
	}
	if len(v) < 2 || v[0] != '\\' || v[1] != 'x' {
		return nil, &TypeConversionError{Target: "bytea", Value: v}
	}
	hexDigits := v[2:]
	out := make([]byte, len(hexDigits)/2)
	for i := range out {
		hi, ok1 := hexNibble(hexDigits[2*i])
		lo, ok2 := hexNibble(hexDigits[2*i+1])
		if !ok1 || !ok2 {
			return nil, &TypeConversionError{Target: "bytea", Value: v}
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// Text returns the named column as its raw text-format string.
func (r *Row) Text(name string) (string, error) {
	v, _, ok := r.find(name)
	if !ok {
		return "", &TypeConversionError{Column: name, Target: "text"}
	}
	if v == nil {
		return "", nil
	}
	return string(v), nil
}

// Int4 parses the named column as a 32-bit integer.
func (r *Row) Int4(name string) (int32, error) {
	v, _, ok := r.find(name)
	if !ok || v == nil {
		return 0, &TypeConversionError{Column: name, Target: "int4", Value: v}
	}
	n, err := strconv.ParseInt(string(v), 10, 32)
	if err != nil {
		return 0, &TypeConversionError{Column: name, Target: "int4", Value: v}
	}
	return int32(n), nil
}

// Int8 parses the named column as a 64-bit integer.
func (r *Row) Int8(name string) (int64, error) {
	v, _, ok := r.find(name)
	if !ok || v == nil {
		return 0, &TypeConversionError{Column: name, Target: "int8", Value: v}
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, &TypeConversionError{Column: name, Target: "int8", Value: v}
	}
	return n, nil
}

// Float8 parses the named column as a float64.
func (r *Row) Float8(name string) (float64, error) {
	v, _, ok := r.find(name)
	if !ok || v == nil {
		return 0, &TypeConversionError{Column: name, Target: "float8", Value: v}
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, &TypeConversionError{Column: name, Target: "float8", Value: v}
	}
	return f, nil
}

// Bool parses the named column as a Postgres text-format boolean ("t"
// or "f").
func (r *Row) Bool(name string) (bool, error) {
	v, _, ok := r.find(name)
	if !ok || v == nil {
		return false, &TypeConversionError{Column: name, Target: "bool", Value: v}
	}
	switch string(v) {
	case "t":
		return true, nil
	case "f":
		return false, nil
	default:
		return false, &TypeConversionError{Column: name, Target: "bool", Value: v}
	}
}

// Bytea decodes the named column from Postgres's "\x"-prefixed hex
// bytea text format.
func (r *Row) Bytea(name string) ([]byte, error) {
	v, _, ok := r.find(name)
	if !ok {
		return nil, &TypeConversionError{Column: name, Target: "bytea"}
	}
	if v == nil {
		return nil, nil
	}
	if len(v) < 2 || v[0] != '\\' || v[1] != 'x' {
		return nil, &TypeConversionError{Column: name, Target: "bytea", Value: v}
	}
	hexDigits := v[2:]
	out := make([]byte, len(hexDigits)/2)
	for i := range out {
		hi, ok1 := hexNibble(hexDigits[2*i])
		lo, ok2 := hexNibble(hexDigits[2*i+1])
		if !ok1 || !ok2 {
			return nil, &TypeConversionError{Column: name, Target: "bytea", Value: v}
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}

// EncodeBytea renders b in Postgres's "\x"-prefixed hex bytea text
// format, for use as a BindParam value.
func EncodeBytea(b []byte) []byte {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '\\', 'x'
	for i, c := range b {
		out[2+i*2] = hexDigits[c>>4]
		out[3+i*2] = hexDigits[c&0x0f]
	}
	return out
}
