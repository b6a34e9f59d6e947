package rkv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFixture(t *testing.T) {
	f := DefaultFixture()
	require.Len(t, f, 5)

	kinds := make(map[string]Kind)
	for _, e := range f {
		kinds[e.Key] = e.Value.Kind()
	}
	assert.Equal(t, map[string]Kind{
		"string_key": KindText,
		"int_key":    KindInteger,
		"float_key":  KindFloat,
		"list_key":   KindList,
		"hash_key":   KindRecord,
	}, kinds)
}

func TestEncodeDecode(t *testing.T) {
	// runtime operands, a constant 0.1 + 0.2 folds to exactly 0.3
	a, b := 0.1, 0.2
	tests := []struct {
		value   Value
		encoded string
	}{
		{Text("Hello, Redis!"), "Hello, Redis!"},
		{Text(""), ""},
		{Integer(42), "42"},
		{Integer(0), "0"},
		{Integer(math.MinInt64), "-9223372036854775808"},
		{Float(3.14), "3.14"},
		{Float(0), "0"},
		{Float(1e21), "1e+21"},
		{Float(a + b), "0.30000000000000004"},
	}
	for _, tt := range tests {
		t.Run(tt.value.Kind().String()+"/"+tt.encoded, func(t *testing.T) {
			got, err := tt.value.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.encoded, got)

			back, err := Decode(tt.value.Kind(), got)
			require.NoError(t, err)
			assert.True(t, back.Equal(tt.value), "%v != %v", back, tt.value)
		})
	}
}

func TestNonScalarValues(t *testing.T) {
	list := List("a", "b", "c")
	record := Record(map[string]string{"field2": "value2", "field1": "value1"})

	for _, v := range []Value{list, record} {
		assert.False(t, v.Scalar())
		_, err := v.Encode()
		require.Error(t, err)
		_, err = Decode(v.Kind(), "x")
		require.Error(t, err)
	}

	assert.Equal(t, "[a, b, c]", list.String())
	assert.Equal(t, "{field1: value1, field2: value2}", record.String())
	assert.True(t, list.Equal(List("a", "b", "c")))
	assert.False(t, list.Equal(List("a", "b")))
	assert.True(t, record.Equal(Record(map[string]string{"field1": "value1", "field2": "value2"})))
	assert.False(t, record.Equal(Record(map[string]string{"field1": "value1", "field2": "other"})))
}

func TestEqualChecksKind(t *testing.T) {
	assert.False(t, Integer(0).Equal(Float(0)))
	assert.False(t, Text("42").Equal(Integer(42)))
	assert.True(t, Float(3.14).Equal(Float(3.14)))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(KindInteger, "4.2")
	require.Error(t, err)
	_, err = Decode(KindFloat, "")
	require.Error(t, err)
}
