package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Kind byte

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

func StringToKind(s string) (Kind, error) {
	switch s {
	case "null":
		return KindNull, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "bool":
		return KindBool, nil
	case "timestamp":
		return KindTimestamp, nil
	default:
		return 0, errors.Errorf("invalid type '%s'", s)
	}
}

// Value is a tagged scalar. The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

var Null = Value{}

func NewInt(v int64) Value {
	return Value{kind: KindInt, i: v}
}

func NewFloat(v float64) Value {
	return Value{kind: KindFloat, f: v}
}

func NewString(v string) Value {
	return Value{kind: KindString, s: v}
}

func NewBool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// NewTimestamp creates a timestamp value from unix millis.
func NewTimestamp(millis int64) Value {
	return Value{kind: KindTimestamp, i: millis}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

func (v Value) Int() int64 {
	return v.i
}

func (v Value) Float() float64 {
	return v.f
}

func (v Value) Str() string {
	return v.s
}

func (v Value) Bool() bool {
	return v.i != 0
}

func (v Value) TimestampMillis() int64 {
	return v.i
}

// AsFloat widens numeric values to float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt, KindTimestamp:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt, KindTimestamp, KindBool:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindTimestamp:
		return time.UnixMilli(v.i).UTC().Format("2006-01-02 15:04:05.000")
	default:
		panic(fmt.Sprintf("unexpected kind %d", v.kind))
	}
}

// Equal compares kind and payload. Int 1 and float 1.0 are not equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case KindString:
		return v.s == other.s
	default:
		return v.i == other.i
	}
}

// Compare gives a total order. Ints and floats compare numerically with each other, other kinds of
// different type order by kind.
func Compare(a Value, b Value) int {
	if a.IsNumeric() && b.IsNumeric() && a.kind != b.kind {
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		return compareFloats(af, bf)
	}
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindFloat:
		return compareFloats(a.f, b.f)
	case KindString:
		return strings.Compare(a.s, b.s)
	default:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
}

func compareFloats(a float64, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	// NaN sorts first
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	default:
		return 1
	}
}

// Row is an ordered, fixed arity sequence of values.
type Row []Value

func (r Row) String() string {
	sb := strings.Builder{}
	sb.WriteRune('[')
	for i, v := range r {
		sb.WriteString(v.String())
		if i != len(r)-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteRune(']')
	return sb.String()
}

// ToAny converts a row into native go values, for use in tests and rendering.
func (r Row) ToAny() []any {
	res := make([]any, len(r))
	for i, v := range r {
		res[i] = v.ToAny()
	}
	return res
}

func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.i != 0
	case KindTimestamp:
		return time.UnixMilli(v.i).UTC()
	default:
		panic(fmt.Sprintf("unexpected kind %d", v.kind))
	}
}

// FromAny converts native go values into a Value.
func FromAny(a any) (Value, error) {
	switch t := a.(type) {
	case nil:
		return Null, nil
	case Value:
		return t, nil
	case int:
		return NewInt(int64(t)), nil
	case int32:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case float32:
		return NewFloat(float64(t)), nil
	case float64:
		return NewFloat(t), nil
	case string:
		return NewString(t), nil
	case bool:
		return NewBool(t), nil
	case time.Time:
		return NewTimestamp(t.UnixMilli()), nil
	default:
		return Null, errors.Errorf("unsupported value type %T", a)
	}
}

func RowFromAny(vals ...any) (Row, error) {
	row := make(Row, len(vals))
	for i, a := range vals {
		v, err := FromAny(a)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// MustRow is RowFromAny which panics, for static test data.
func MustRow(vals ...any) Row {
	row, err := RowFromAny(vals...)
	if err != nil {
		panic(err)
	}
	return row
}
