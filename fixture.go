package rkv

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged variant: exactly the field matching kind is meaningful.
type Value struct {
	kind    Kind
	text    string
	integer int64
	float   float64
	list    []string
	record  map[string]string
}

func Text(s string) Value { return Value{kind: KindText, text: s} }
func Integer(n int64) Value { return Value{kind: KindInteger, integer: n} }
func Float(f float64) Value { return Value{kind: KindFloat, float: f} }
func List(items ...string) Value { return Value{kind: KindList, list: items} }
func Record(fields map[string]string) Value {
	return Value{kind: KindRecord, record: fields}
}

func (v Value) Kind() Kind { return v.kind }

// Scalar reports whether the value travels as a plain string.
func (v Value) Scalar() bool {
	switch v.kind {
	case KindText, KindInteger, KindFloat:
		return true
	default:
		return false
	}
}

// Encode renders a scalar in its natural textual form. Floats use the
// shortest representation that parses back to the same float64.
func (v Value) Encode() (string, error) {
	switch v.kind {
	case KindText:
		return v.text, nil
	case KindInteger:
		return strconv.FormatInt(v.integer, 10), nil
	case KindFloat:
		return strconv.FormatFloat(v.float, 'g', -1, 64), nil
	case KindList, KindRecord:
		return "", fmt.Errorf("%s values have no string encoding", v.kind)
	default:
		panic("rkv: unknown value kind " + v.kind.String())
	}
}

// Decode parses payload back into a value of kind.
func Decode(kind Kind, payload string) (Value, error) {
	switch kind {
	case KindText:
		return Text(payload), nil
	case KindInteger:
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Integer(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case KindList, KindRecord:
		return Value{}, fmt.Errorf("%s values have no string encoding", kind)
	default:
		panic("rkv: unknown value kind " + kind.String())
	}
}

// Equal compares kind and content exactly.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindInteger:
		return v.integer == o.integer
	case KindFloat:
		return v.float == o.float
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.record) != len(o.record) {
			return false
		}
		for k, fv := range v.record {
			if ov, ok := o.record[k]; !ok || ov != fv {
				return false
			}
		}
		return true
	default:
		panic("rkv: unknown value kind " + v.kind.String())
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindList:
		return "[" + strings.Join(v.list, ", ") + "]"
	case KindRecord:
		fields := make([]string, 0, len(v.record))
		for k := range v.record {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for i, k := range fields {
			fields[i] = k + ": " + v.record[k]
		}
		return "{" + strings.Join(fields, ", ") + "}"
	default:
		s, _ := v.Encode()
		return s
	}
}

type Entry struct {
	Key   string
	Value Value
}

// Fixture is an ordered set of entries. Checks run in slice order.
type Fixture []Entry

// DefaultFixture is one entry of every kind.
func DefaultFixture() Fixture {
	return Fixture{
		{Key: "string_key", Value: Text("Hello, Redis!")},
		{Key: "int_key", Value: Integer(42)},
		{Key: "float_key", Value: Float(3.14)},
		{Key: "list_key", Value: List("a", "b", "c")},
		{Key: "hash_key", Value: Record(map[string]string{"field1": "value1", "field2": "value2"})},
	}
}
