package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ScalarKind is the tag of a Scalar.
type ScalarKind uint8

const (
	KindNull ScalarKind = iota
	KindInt
	KindFloat
	KindString
	KindBool
)

func (k ScalarKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	default:
		return fmt.Sprintf("ScalarKind(%d)", k)
	}
}

// Scalar is a transport-safe value: null, integer, float, string or boolean.
// The zero value is null.
type Scalar struct {
	kind ScalarKind
	i    int64
	f    float64
	s    string
	b    bool
}

func Null() Scalar { return Scalar{} }
func Int(v int64) Scalar { return Scalar{kind: KindInt, i: v} }
func Float(v float64) Scalar { return Scalar{kind: KindFloat, f: v} }
func String(v string) Scalar { return Scalar{kind: KindString, s: v} }
func Bool(v bool) Scalar { return Scalar{kind: KindBool, b: v} }
func (s Scalar) Kind() ScalarKind { return s.kind }
func (s Scalar) IsNull() bool { return s.kind == KindNull }

// Int64 returns the integer payload; ok is false for other kinds.
func (s Scalar) Int64() (int64, bool) { return s.i, s.kind == KindInt }

// Float64 returns the float payload; ok is false for other kinds.
func (s Scalar) Float64() (float64, bool) { return s.f, s.kind == KindFloat }

// Str returns the string payload; ok is false for other kinds.
func (s Scalar) Str() (string, bool) { return s.s, s.kind == KindString }

// Boolean returns the boolean payload; ok is false for other kinds.
func (s Scalar) Boolean() (bool, bool) { return s.b, s.kind == KindBool }

// Any returns the payload as a Go value (nil, int64, float64, string, bool).
func (s Scalar) Any() any {
	switch s.kind {
	case KindInt:
		return s.i
	case KindFloat:
		return s.f
	case KindString:
		return s.s
	case KindBool:
		return s.b
	default:
		return nil
	}
}

// Text renders the scalar for delimited-text output. Null is empty.
func (s Scalar) Text() string {
	switch s.kind {
	case KindInt:
		return strconv.FormatInt(s.i, 10)
	case KindFloat:
		return strconv.FormatFloat(s.f, 'g', -1, 64)
	case KindString:
		return s.s
	case KindBool:
		return strconv.FormatBool(s.b)
	default:
		return ""
	}
}

// Len is the payload size used by the materialization guard.
func (s Scalar) Len() int {
	if s.kind == KindString {
		return len(s.s)
	}
	return 8
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindInt:
		return strconv.AppendInt(nil, s.i, 10), nil
	case KindFloat:
		return json.Marshal(s.f)
	case KindString:
		return json.Marshal(s.s)
	case KindBool:
		return strconv.AppendBool(nil, s.b), nil
	default:
		return []byte("null"), nil
	}
}

func (s Scalar) String() string {
	if s.kind == KindNull {
		return "NULL"
	}
	return s.Text()
}
