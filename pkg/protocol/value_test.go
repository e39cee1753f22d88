package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Equality(t *testing.T) {
	assert.True(t, I32(5).Equal(I32(5)))
	assert.False(t, I32(5).Equal(I32(6)))
	assert.False(t, I32(5).Equal(I64(5)), "different kinds are never equal")
	assert.True(t, String("a").Equal(String("a")))
	assert.True(t, Empty.Equal(Empty))
	assert.False(t, Empty.Equal(String("")))

	arr := Array(I64(1), I64(2))
	assert.True(t, arr.Equal(Array(I64(1), I64(2))))
	assert.False(t, arr.Equal(Array(I64(1))))

	obj := Object(map[string]Value{"x": Bool(true)})
	assert.True(t, obj.Equal(Object(map[string]Value{"x": Bool(true)})))
	assert.False(t, obj.Equal(Object(map[string]Value{"x": Bool(false)})))
}

func TestValue_Ordering(t *testing.T) {
	// Same-kind numerics order by the inner type.
	assert.Equal(t, -1, I64(1).Compare(I64(2)))
	assert.Equal(t, 1, F64(2.5).Compare(F64(1.5)))
	assert.Equal(t, 0, U32(7).Compare(U32(7)))
	assert.Equal(t, -1, String("a").Compare(String("b")))

	// Empty sorts least.
	assert.Equal(t, -1, Empty.Compare(I8(-128)))
	assert.Equal(t, 1, String("").Compare(Empty))
	assert.Equal(t, 0, Empty.Compare(Empty))

	// Cross-kind comparison yields equal.
	assert.Equal(t, 0, I64(1).Compare(String("z")))
	assert.Equal(t, 0, U8(1).Compare(U16(1)))

	// Signed 128-bit respects the sign.
	var neg, pos [16]byte
	for i := range neg {
		neg[i] = 0xFF // -1
	}
	pos[15] = 1 // +1
	assert.Equal(t, -1, I128(neg).Compare(I128(pos)))
	assert.Equal(t, 1, U128(neg).Compare(U128(pos)))
}

func TestProperties_BinaryRoundTrip(t *testing.T) {
	var wide [16]byte
	wide[0], wide[15] = 0xAB, 0x01

	props := map[string]Value{
		"name":  String("John"),
		"age":   I32(20),
		"score": F64(3.25),
		"flag":  Bool(true),
		"none":  Empty,
		"tiny":  I8(-4),
		"big":   U128(wide),
		"when":  Date(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		"id":    IDValue(NewID()),
		"arr":   Array(I64(1), I64(2), I64(3)),
		"obj":   Object(map[string]Value{"nested": String("yes"), "n": U64(9)}),
	}

	data, err := EncodeProperties(props)
	require.NoError(t, err)

	decoded, err := DecodeProperties(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(props))
	for k, v := range props {
		assert.True(t, v.Equal(decoded[k]), "property %q changed across round-trip", k)
	}
}

func TestProperties_Deterministic(t *testing.T) {
	props := map[string]Value{"b": I64(2), "a": I64(1), "c": I64(3)}
	first, err := EncodeProperties(props)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := EncodeProperties(props)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecode_Truncated(t *testing.T) {
	data, err := EncodeProperties(map[string]Value{"k": String("value")})
	require.NoError(t, err)

	for cut := 1; cut < len(data); cut++ {
		_, err := DecodeProperties(data[:cut])
		assert.ErrorIs(t, err, ErrConversion, "cut at %d should fail decoding", cut)
	}
}

func TestValue_JSONProjection(t *testing.T) {
	props := map[string]Value{
		"name": String("John"),
		"age":  I32(20),
		"arr":  Array(I64(1), I64(2), I64(3)),
		"ok":   Bool(true),
		"none": Empty,
	}

	data, err := json.Marshal(props)
	require.NoError(t, err)

	var decoded map[string]Value
	require.NoError(t, json.Unmarshal(data, &decoded))

	// The projection drops tags, so integer widths collapse to I64.
	v, _ := decoded["age"].Int()
	assert.Equal(t, int64(20), v)
	s, _ := decoded["name"].Str()
	assert.Equal(t, "John", s)
	assert.True(t, decoded["none"].IsEmpty())
	arr, _ := decoded["arr"].Arr()
	require.Len(t, arr, 3)

	// Binary and JSON encodings of the same value decode to equal values
	// once both sides use the projection's widths.
	widened := map[string]Value{
		"name": String("John"),
		"age":  I64(20),
		"arr":  Array(I64(1), I64(2), I64(3)),
		"ok":   Bool(true),
		"none": Empty,
	}
	bin, err := EncodeProperties(widened)
	require.NoError(t, err)
	fromBin, err := DecodeProperties(bin)
	require.NoError(t, err)
	for k := range widened {
		assert.True(t, fromBin[k].Equal(decoded[k]), "key %q", k)
	}
}

func TestID_TimeOrdered(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		assert.True(t, prev.Compare(next) < 0, "ids must be monotonic within a process")
		prev = next
	}
}

func TestID_JSON(t *testing.T) {
	id := NewID()
	data, err := json.Marshal(id)
	require.NoError(t, err)

	var back ID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)

	_, err = ParseID("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
