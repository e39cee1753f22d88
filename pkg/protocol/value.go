// Package protocol defines the value model shared by every layer of
// HelixDB: the tagged Value scalar stored in property maps, the 128-bit
// time-ordered ID, and the self-describing binary encoding used for
// records on disk.
//
// Values carry an explicit type tag. The binary encoding preserves the
// tag so that round-trips are exact; the JSON projection drops it and
// renders the raw value, the way clients expect to read properties.
//
// Example:
//
//	props := map[string]protocol.Value{
//		"name": protocol.String("Alice"),
//		"age":  protocol.I32(30),
//	}
//	data, _ := protocol.EncodeProperties(props)
//	decoded, _ := protocol.DecodeProperties(data)
package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type held by a Value. The numeric values
// double as the tag bytes of the binary encoding, so they must not be
// reordered.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindString
	KindF32
	KindF64
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindBool
	KindDate
	KindID
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindEmpty:  "Empty",
	KindString: "String",
	KindF32:    "F32",
	KindF64:    "F64",
	KindI8:     "I8",
	KindI16:    "I16",
	KindI32:    "I32",
	KindI64:    "I64",
	KindI128:   "I128",
	KindU8:     "U8",
	KindU16:    "U16",
	KindU32:    "U32",
	KindU64:    "U64",
	KindU128:   "U128",
	KindBool:   "Boolean",
	KindDate:   "Date",
	KindID:     "Id",
	KindArray:  "Array",
	KindObject: "Object",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is the tagged scalar stored in node, edge and vector property
// maps. The zero value is Empty.
//
// Integers are held in a single uint64 field (sign-extended bit pattern
// for signed kinds); 128-bit quantities and IDs use the wide field.
type Value struct {
	kind Kind
	str  string
	num  uint64
	wide [16]byte
	t    time.Time
	arr  []Value
	obj  map[string]Value
}

// Empty is the absent value. It compares less than everything and equals
// only itself.
var Empty = Value{kind: KindEmpty}

// Constructors, one per variant.

func String(s string) Value   { return Value{kind: KindString, str: s} }
func F32(f float32) Value     { return Value{kind: KindF32, num: uint64(math.Float32bits(f))} }
func F64(f float64) Value     { return Value{kind: KindF64, num: math.Float64bits(f)} }
func I8(i int8) Value         { return Value{kind: KindI8, num: uint64(i)} }
func I16(i int16) Value       { return Value{kind: KindI16, num: uint64(i)} }
func I32(i int32) Value       { return Value{kind: KindI32, num: uint64(i)} }
func I64(i int64) Value       { return Value{kind: KindI64, num: uint64(i)} }
func U8(u uint8) Value        { return Value{kind: KindU8, num: uint64(u)} }
func U16(u uint16) Value      { return Value{kind: KindU16, num: uint64(u)} }
func U32(u uint32) Value      { return Value{kind: KindU32, num: uint64(u)} }
func U64(u uint64) Value      { return Value{kind: KindU64, num: u} }
func Date(t time.Time) Value  { return Value{kind: KindDate, t: t.UTC()} }
func IDValue(id ID) Value     { return Value{kind: KindID, wide: id} }
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Bool builds a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// U128 builds an unsigned 128-bit value from its big-endian bytes.
func U128(b [16]byte) Value { return Value{kind: KindU128, wide: b} }

// I128 builds a signed 128-bit value from its big-endian two's-complement
// bytes.
func I128(b [16]byte) Value { return Value{kind: KindI128, wide: b} }

// Object builds a nested object value. The map is used as-is.
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether the value is the Empty variant.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// Accessors. Each returns the inner value and whether the kind matched.

func (v Value) Str() (string, bool)           { return v.str, v.kind == KindString }
func (v Value) Bool() (bool, bool)            { return v.num != 0, v.kind == KindBool }
func (v Value) Time() (time.Time, bool)       { return v.t, v.kind == KindDate }
func (v Value) Arr() ([]Value, bool)          { return v.arr, v.kind == KindArray }
func (v Value) Obj() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Int returns the value as int64 for the signed integer kinds.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindI8, KindI16, KindI32, KindI64:
		return int64(v.num), true
	}
	return 0, false
}

// Uint returns the value as uint64 for the unsigned integer kinds.
func (v Value) Uint() (uint64, bool) {
	switch v.kind {
	case KindU8, KindU16, KindU32, KindU64:
		return v.num, true
	}
	return 0, false
}

// Float returns the value as float64 for the float kinds.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindF32:
		return float64(math.Float32frombits(uint32(v.num))), true
	case KindF64:
		return math.Float64frombits(v.num), true
	}
	return 0, false
}

// Wide returns the 16-byte payload of U128, I128 and Id values.
func (v Value) Wide() ([16]byte, bool) {
	switch v.kind {
	case KindU128, KindI128, KindID:
		return v.wide, true
	}
	return [16]byte{}, false
}

// AsID returns the value as an ID for the Id kind.
func (v Value) AsID() (ID, bool) {
	if v.kind == KindID {
		return ID(v.wide), true
	}
	return ID{}, false
}

// Equal reports deep equality. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindEmpty:
		return true
	case KindString:
		return v.str == o.str
	case KindDate:
		return v.t.Equal(o.t)
	case KindU128, KindI128, KindID:
		return v.wide == o.wide
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, vv := range v.obj {
			ov, ok := o.obj[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return v.num == o.num
	}
}

// Compare orders values. Same-kind values order by their inner type.
// Empty sorts before everything; values of unrelated kinds compare equal,
// so mixed-kind sorts are stable rather than meaningful.
func (v Value) Compare(o Value) int {
	if v.kind == KindEmpty || o.kind == KindEmpty {
		switch {
		case v.kind == o.kind:
			return 0
		case v.kind == KindEmpty:
			return -1
		default:
			return 1
		}
	}
	if v.kind != o.kind {
		return 0
	}
	switch v.kind {
	case KindString:
		return strings.Compare(v.str, o.str)
	case KindF32, KindF64:
		a, _ := v.Float()
		b, _ := o.Float()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case KindI8, KindI16, KindI32, KindI64:
		a, b := int64(v.num), int64(o.num)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case KindU8, KindU16, KindU32, KindU64, KindBool:
		switch {
		case v.num < o.num:
			return -1
		case v.num > o.num:
			return 1
		}
		return 0
	case KindU128, KindID:
		return compareBytes16(v.wide, o.wide)
	case KindI128:
		// Flip the sign bit so two's-complement order matches byte order.
		a, b := v.wide, o.wide
		a[0] ^= 0x80
		b[0] ^= 0x80
		return compareBytes16(a, b)
	case KindDate:
		switch {
		case v.t.Before(o.t):
			return -1
		case v.t.After(o.t):
			return 1
		}
		return 0
	case KindArray:
		for i := 0; i < len(v.arr) && i < len(o.arr); i++ {
			if c := v.arr[i].Compare(o.arr[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(v.arr) < len(o.arr):
			return -1
		case len(v.arr) > len(o.arr):
			return 1
		}
		return 0
	default:
		return 0
	}
}

func compareBytes16(a, b [16]byte) int {
	for i := 0; i < 16; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// String renders the value for logs and text projections. Arrays and
// objects join their parts with spaces; objects render each entry as its
// key followed by its value.
func (v Value) String() string {
	switch v.kind {
	case KindEmpty:
		return ""
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindDate:
		return v.t.Format(time.RFC3339)
	case KindID:
		return ID(v.wide).String()
	case KindU128, KindI128:
		return fmt.Sprintf("%x", v.wide)
	case KindF32, KindF64:
		f, _ := v.Float()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case KindI8, KindI16, KindI32, KindI64:
		return strconv.FormatInt(int64(v.num), 10)
	case KindU8, KindU16, KindU32, KindU64:
		return strconv.FormatUint(v.num, 10)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return strings.Join(parts, " ")
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" "+v.obj[k].String())
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// MarshalJSON emits the tagless JSON projection.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.num != 0)
	case KindDate:
		return json.Marshal(v.t.Format(time.RFC3339))
	case KindID:
		return json.Marshal(ID(v.wide).String())
	case KindU128, KindI128:
		return json.Marshal(fmt.Sprintf("%x", v.wide))
	case KindF32, KindF64:
		f, _ := v.Float()
		return json.Marshal(f)
	case KindI8, KindI16, KindI32, KindI64:
		return json.Marshal(int64(v.num))
	case KindU8, KindU16, KindU32, KindU64:
		return json.Marshal(v.num)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("%w: cannot marshal kind %s", ErrConversion, v.kind)
	}
}

// UnmarshalJSON parses untagged JSON, inferring kinds the way the binary
// decoder would see them from a client: integral numbers become I64,
// fractional numbers F64.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	parsed, err := FromJSONValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromJSONValue converts a decoded JSON value (string, json.Number, bool,
// []any, map[string]any, nil) into a Value.
func FromJSONValue(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Empty, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return I64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Empty, fmt.Errorf("%w: bad number %q", ErrConversion, x)
		}
		return F64(f), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return I64(int64(x)), nil
		}
		return F64(x), nil
	case []any:
		arr := make([]Value, len(x))
		for i, e := range x {
			ev, err := FromJSONValue(e)
			if err != nil {
				return Empty, err
			}
			arr[i] = ev
		}
		return Array(arr...), nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			ev, err := FromJSONValue(e)
			if err != nil {
				return Empty, err
			}
			obj[k] = ev
		}
		return Object(obj), nil
	default:
		return Empty, fmt.Errorf("%w: unsupported JSON value %T", ErrConversion, raw)
	}
}

// I64Array wraps a slice of int64 as an Array value.
func I64Array(xs []int64) Value {
	arr := make([]Value, len(xs))
	for i, x := range xs {
		arr[i] = I64(x)
	}
	return Array(arr...)
}

// StringArray wraps a slice of strings as an Array value.
func StringArray(xs []string) Value {
	arr := make([]Value, len(xs))
	for i, x := range xs {
		arr[i] = String(x)
	}
	return Array(arr...)
}

// F64Array wraps a slice of float64 as an Array value.
func F64Array(xs []float64) Value {
	arr := make([]Value, len(xs))
	for i, x := range xs {
		arr[i] = F64(x)
	}
	return Array(arr...)
}
