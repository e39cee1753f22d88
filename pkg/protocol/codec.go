package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// Binary layout, all integers big-endian:
//
//	properties: u32 entry count, then per entry
//	            u16 key length, key bytes, value
//	value:      1 tag byte (the Kind), then the payload
//	            string: u32 length + bytes
//	            fixed-width numerics: their width
//	            i128/u128/id: 16 bytes
//	            bool: 1 byte
//	            date: i64 unix milliseconds
//	            array: u32 count + values
//	            object: u32 count + (u16 key length, key, value) entries
//	            empty: no payload
//
// The tag byte is the Kind constant, which is why Kind values are frozen.

// EncodeValue appends the binary form of v to dst and returns the
// extended slice.
func EncodeValue(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.kind))
	switch v.kind {
	case KindEmpty:
	case KindString:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.str)))
		dst = append(dst, v.str...)
	case KindF32:
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.num))
	case KindF64:
		dst = binary.BigEndian.AppendUint64(dst, v.num)
	case KindI8, KindU8:
		dst = append(dst, byte(v.num))
	case KindI16, KindU16:
		dst = binary.BigEndian.AppendUint16(dst, uint16(v.num))
	case KindI32, KindU32:
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.num))
	case KindI64, KindU64:
		dst = binary.BigEndian.AppendUint64(dst, v.num)
	case KindI128, KindU128, KindID:
		dst = append(dst, v.wide[:]...)
	case KindBool:
		dst = append(dst, byte(v.num))
	case KindDate:
		dst = binary.BigEndian.AppendUint64(dst, uint64(v.t.UnixMilli()))
	case KindArray:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.arr)))
		for _, e := range v.arr {
			dst = EncodeValue(dst, e)
		}
	case KindObject:
		dst = appendEntries(dst, v.obj)
	}
	return dst
}

// DecodeValue reads one value from b, returning it and the remaining
// bytes.
func DecodeValue(b []byte) (Value, []byte, error) {
	if len(b) == 0 {
		return Empty, nil, fmt.Errorf("%w: truncated value", ErrConversion)
	}
	kind := Kind(b[0])
	b = b[1:]
	switch kind {
	case KindEmpty:
		return Empty, b, nil
	case KindString:
		n, rest, err := readLen32(b)
		if err != nil || len(rest) < n {
			return Empty, nil, fmt.Errorf("%w: truncated string", ErrConversion)
		}
		return String(string(rest[:n])), rest[n:], nil
	case KindF32:
		if len(b) < 4 {
			return Empty, nil, truncated(kind)
		}
		return F32(math.Float32frombits(binary.BigEndian.Uint32(b))), b[4:], nil
	case KindF64:
		if len(b) < 8 {
			return Empty, nil, truncated(kind)
		}
		return F64(math.Float64frombits(binary.BigEndian.Uint64(b))), b[8:], nil
	case KindI8:
		if len(b) < 1 {
			return Empty, nil, truncated(kind)
		}
		return I8(int8(b[0])), b[1:], nil
	case KindU8:
		if len(b) < 1 {
			return Empty, nil, truncated(kind)
		}
		return U8(b[0]), b[1:], nil
	case KindI16:
		if len(b) < 2 {
			return Empty, nil, truncated(kind)
		}
		return I16(int16(binary.BigEndian.Uint16(b))), b[2:], nil
	case KindU16:
		if len(b) < 2 {
			return Empty, nil, truncated(kind)
		}
		return U16(binary.BigEndian.Uint16(b)), b[2:], nil
	case KindI32:
		if len(b) < 4 {
			return Empty, nil, truncated(kind)
		}
		return I32(int32(binary.BigEndian.Uint32(b))), b[4:], nil
	case KindU32:
		if len(b) < 4 {
			return Empty, nil, truncated(kind)
		}
		return U32(binary.BigEndian.Uint32(b)), b[4:], nil
	case KindI64:
		if len(b) < 8 {
			return Empty, nil, truncated(kind)
		}
		return I64(int64(binary.BigEndian.Uint64(b))), b[8:], nil
	case KindU64:
		if len(b) < 8 {
			return Empty, nil, truncated(kind)
		}
		return U64(binary.BigEndian.Uint64(b)), b[8:], nil
	case KindI128, KindU128, KindID:
		if len(b) < 16 {
			return Empty, nil, truncated(kind)
		}
		var wide [16]byte
		copy(wide[:], b[:16])
		v := Value{kind: kind, wide: wide}
		return v, b[16:], nil
	case KindBool:
		if len(b) < 1 {
			return Empty, nil, truncated(kind)
		}
		return Bool(b[0] != 0), b[1:], nil
	case KindDate:
		if len(b) < 8 {
			return Empty, nil, truncated(kind)
		}
		ms := int64(binary.BigEndian.Uint64(b))
		return Date(time.UnixMilli(ms).UTC()), b[8:], nil
	case KindArray:
		n, rest, err := readLen32(b)
		if err != nil {
			return Empty, nil, truncated(kind)
		}
		arr := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			var e Value
			e, rest, err = DecodeValue(rest)
			if err != nil {
				return Empty, nil, err
			}
			arr = append(arr, e)
		}
		return Array(arr...), rest, nil
	case KindObject:
		obj, rest, err := decodeEntries(b)
		if err != nil {
			return Empty, nil, err
		}
		return Object(obj), rest, nil
	default:
		return Empty, nil, fmt.Errorf("%w: unknown value tag 0x%02x", ErrConversion, byte(kind))
	}
}

// EncodeProperties serialises a property map. Entries are written in
// sorted key order so the encoding is deterministic.
func EncodeProperties(props map[string]Value) ([]byte, error) {
	return appendEntries(nil, props), nil
}

// DecodeProperties parses a property map produced by EncodeProperties.
func DecodeProperties(b []byte) (map[string]Value, error) {
	props, rest, err := decodeEntries(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after properties", ErrConversion, len(rest))
	}
	return props, nil
}

func appendEntries(dst []byte, m map[string]Value) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(keys)))
	for _, k := range keys {
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(k)))
		dst = append(dst, k...)
		dst = EncodeValue(dst, m[k])
	}
	return dst
}

func decodeEntries(b []byte) (map[string]Value, []byte, error) {
	n, rest, err := readLen32(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: truncated property map", ErrConversion)
	}
	m := make(map[string]Value, n)
	for i := 0; i < n; i++ {
		if len(rest) < 2 {
			return nil, nil, fmt.Errorf("%w: truncated property key", ErrConversion)
		}
		kl := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < kl {
			return nil, nil, fmt.Errorf("%w: truncated property key", ErrConversion)
		}
		key := string(rest[:kl])
		rest = rest[kl:]
		var v Value
		v, rest, err = DecodeValue(rest)
		if err != nil {
			return nil, nil, err
		}
		m[key] = v
	}
	return m, rest, nil
}

func readLen32(b []byte) (int, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated length", ErrConversion)
	}
	return int(binary.BigEndian.Uint32(b)), b[4:], nil
}

func truncated(k Kind) error {
	return fmt.Errorf("%w: truncated %s payload", ErrConversion, k)
}
