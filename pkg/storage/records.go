package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/orneryd/helixdb/pkg/protocol"
)

// Record layouts, big-endian throughout.
//
//	node:   u16 label length, label, properties
//	edge:   u16 label length, label, from(16), to(16), properties
//	vector: u8 flags, [payload when flags&1], u16 neighbour count, ids
//	payload: u8 top level, u16 label length, label, u8 float width (4|8),
//	         u32 dim, coordinates, u32 properties length, properties
//
// Only the layer-0 vector record carries the payload; higher layers hold
// neighbour lists alone.

const vectorHasPayload = 0x01

// EncodeNode serialises a node record.
func EncodeNode(n *Node) ([]byte, error) {
	buf := appendLabel(nil, n.Label)
	props, err := protocol.EncodeProperties(n.Properties)
	if err != nil {
		return nil, err
	}
	return append(buf, props...), nil
}

// DecodeNode parses a node record. The id comes from the key, not the
// record.
func DecodeNode(id protocol.ID, data []byte) (*Node, error) {
	label, rest, err := readLabel(data)
	if err != nil {
		return nil, err
	}
	props, err := protocol.DecodeProperties(rest)
	if err != nil {
		return nil, err
	}
	return &Node{ID: id, Label: label, Properties: props}, nil
}

// EncodeEdge serialises an edge record.
func EncodeEdge(e *Edge) ([]byte, error) {
	buf := appendLabel(nil, e.Label)
	buf = append(buf, e.From[:]...)
	buf = append(buf, e.To[:]...)
	props, err := protocol.EncodeProperties(e.Properties)
	if err != nil {
		return nil, err
	}
	return append(buf, props...), nil
}

// DecodeEdge parses an edge record.
func DecodeEdge(id protocol.ID, data []byte) (*Edge, error) {
	label, rest, err := readLabel(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 32 {
		return nil, fmt.Errorf("%w: truncated edge endpoints", protocol.ErrConversion)
	}
	var from, to protocol.ID
	copy(from[:], rest[:16])
	copy(to[:], rest[16:32])
	props, err := protocol.DecodeProperties(rest[32:])
	if err != nil {
		return nil, err
	}
	return &Edge{ID: id, Label: label, From: from, To: to, Properties: props}, nil
}

// EncodeVectorRecord serialises one layer of a vector. withPayload must
// be true exactly for layer 0.
func EncodeVectorRecord(v *Vector, neighbors []protocol.ID, withPayload, float64Width bool) ([]byte, error) {
	var buf []byte
	if withPayload {
		buf = append(buf, vectorHasPayload)
		buf = append(buf, byte(v.Level))
		buf = appendLabel(buf, v.Label)
		width := byte(4)
		if float64Width {
			width = 8
		}
		buf = append(buf, width)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Data)))
		for _, f := range v.Data {
			if float64Width {
				buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
			} else {
				buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(f)))
			}
		}
		props, err := protocol.EncodeProperties(v.Properties)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(props)))
		buf = append(buf, props...)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(neighbors)))
	for _, id := range neighbors {
		buf = append(buf, id[:]...)
	}
	return buf, nil
}

// DecodeVectorRecord parses one layer of a vector. For layers above 0 the
// returned vector carries only id, level and neighbours.
func DecodeVectorRecord(id protocol.ID, level int, data []byte) (*Vector, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty vector record", protocol.ErrConversion)
	}
	v := &Vector{ID: id, Level: level}
	flags := data[0]
	rest := data[1:]
	if flags&vectorHasPayload != 0 {
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: truncated vector header", protocol.ErrConversion)
		}
		v.Level = int(rest[0])
		rest = rest[1:]
		label, r, err := readLabel(rest)
		if err != nil {
			return nil, err
		}
		rest = r
		if len(rest) < 5 {
			return nil, fmt.Errorf("%w: truncated vector header", protocol.ErrConversion)
		}
		width := int(rest[0])
		dim := int(binary.BigEndian.Uint32(rest[1:5]))
		rest = rest[5:]
		if width != 4 && width != 8 {
			return nil, fmt.Errorf("%w: bad float width %d", protocol.ErrConversion, width)
		}
		if len(rest) < dim*width {
			return nil, fmt.Errorf("%w: truncated coordinates", protocol.ErrConversion)
		}
		v.Label = label
		v.Data = make([]float64, dim)
		for i := 0; i < dim; i++ {
			if width == 8 {
				v.Data[i] = math.Float64frombits(binary.BigEndian.Uint64(rest[i*8:]))
			} else {
				v.Data[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(rest[i*4:])))
			}
		}
		rest = rest[dim*width:]
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: truncated vector properties", protocol.ErrConversion)
		}
		propsLen := int(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < propsLen {
			return nil, fmt.Errorf("%w: truncated vector properties", protocol.ErrConversion)
		}
		props, err := protocol.DecodeProperties(rest[:propsLen])
		if err != nil {
			return nil, err
		}
		v.Properties = props
		rest = rest[propsLen:]
	}
	if len(rest) < 2 {
		return nil, fmt.Errorf("%w: truncated neighbour list", protocol.ErrConversion)
	}
	count := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) != count*16 {
		return nil, fmt.Errorf("%w: neighbour list length mismatch", protocol.ErrConversion)
	}
	v.Neighbors = make([]protocol.ID, count)
	for i := 0; i < count; i++ {
		copy(v.Neighbors[i][:], rest[i*16:])
	}
	return v, nil
}

func appendLabel(dst []byte, label string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(label)))
	return append(dst, label...)
}

func readLabel(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("%w: truncated label", protocol.ErrConversion)
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("%w: truncated label", protocol.ErrConversion)
	}
	return string(b[:n]), b[n:], nil
}
