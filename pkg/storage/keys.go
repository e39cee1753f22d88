package storage

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/orneryd/helixdb/pkg/protocol"
)

// Table prefixes inside the shared Badger keyspace. Badger has no named
// tables, so each logical table owns one leading byte; everything after
// the prefix is the fixed layout documented next to each helper. All
// integers are big-endian so lexicographic order equals numeric order.
const (
	prefixNodes        = byte(0x01) // id(16) -> node record
	prefixEdges        = byte(0x02) // id(16) -> edge record
	prefixOutEdges     = byte(0x03) // from(16) labelHash(4) edge(16) -> to(16)
	prefixInEdges      = byte(0x04) // to(16) labelHash(4) edge(16) -> from(16)
	prefixVectors      = byte(0x05) // id(16) layer(1) -> vector record
	prefixSecondary    = byte(0x06) // labelHash(4) propHash(4) valueBytes node(16) -> empty
	prefixBM25Postings = byte(0x07) // labelHash(4) term 0x00 doc(16) -> u32 tf
	prefixBM25DocLen   = byte(0x08) // labelHash(4) doc(16) -> u32 tokens
	prefixBM25DF       = byte(0x09) // labelHash(4) term -> u32 docs
	prefixBM25Meta     = byte(0x0A) // labelHash(4) -> u64 docs, u64 total length
	prefixMeta         = byte(0x0B) // engine metadata (table manifest, HNSW entry point)
)

// HashLabel maps a label or property name to the fixed-width prefix used
// in keys. The low 32 bits of xxhash64 keep the prefix constant-length
// without a label catalogue.
func HashLabel(label string) uint32 {
	return uint32(xxhash.Sum64String(label))
}

func appendHash(dst []byte, h uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, h)
}

// VectorsTablePrefix scans the whole vectors table.
func VectorsTablePrefix() []byte { return []byte{prefixVectors} }

// NodesTablePrefix scans the whole nodes table.
func NodesTablePrefix() []byte { return []byte{prefixNodes} }

// EdgesTablePrefix scans the whole edges table.
func EdgesTablePrefix() []byte { return []byte{prefixEdges} }

// NodeKey is the nodes-table key for id.
func NodeKey(id protocol.ID) []byte {
	return append([]byte{prefixNodes}, id[:]...)
}

// EdgeKey is the edges-table key for id.
func EdgeKey(id protocol.ID) []byte {
	return append([]byte{prefixEdges}, id[:]...)
}

// OutEdgeKey identifies one outgoing adjacency entry. The edge id tail
// simulates a duplicate-key table: all edges with the same (from, label)
// share the OutEdgePrefix and are enumerated with a prefix scan.
func OutEdgeKey(from protocol.ID, labelHash uint32, edge protocol.ID) []byte {
	key := make([]byte, 0, 1+16+4+16)
	key = append(key, prefixOutEdges)
	key = append(key, from[:]...)
	key = appendHash(key, labelHash)
	key = append(key, edge[:]...)
	return key
}

// OutEdgePrefix scans all outgoing edges of from with the given label.
func OutEdgePrefix(from protocol.ID, labelHash uint32) []byte {
	key := make([]byte, 0, 1+16+4)
	key = append(key, prefixOutEdges)
	key = append(key, from[:]...)
	return appendHash(key, labelHash)
}

// OutEdgeNodePrefix scans all outgoing edges of from regardless of label.
func OutEdgeNodePrefix(from protocol.ID) []byte {
	return append([]byte{prefixOutEdges}, from[:]...)
}

// InEdgeKey mirrors OutEdgeKey for the incoming direction.
func InEdgeKey(to protocol.ID, labelHash uint32, edge protocol.ID) []byte {
	key := make([]byte, 0, 1+16+4+16)
	key = append(key, prefixInEdges)
	key = append(key, to[:]...)
	key = appendHash(key, labelHash)
	key = append(key, edge[:]...)
	return key
}

// InEdgePrefix scans all incoming edges of to with the given label.
func InEdgePrefix(to protocol.ID, labelHash uint32) []byte {
	key := make([]byte, 0, 1+16+4)
	key = append(key, prefixInEdges)
	key = append(key, to[:]...)
	return appendHash(key, labelHash)
}

// InEdgeNodePrefix scans all incoming edges of to regardless of label.
func InEdgeNodePrefix(to protocol.ID) []byte {
	return append([]byte{prefixInEdges}, to[:]...)
}

// adjEntry splits an adjacency key back into (labelHash, edgeID). The key
// must carry the 1-byte prefix and 16-byte node id in front.
func adjEntry(key []byte) (labelHash uint32, edge protocol.ID, ok bool) {
	if len(key) != 1+16+4+16 {
		return 0, protocol.ID{}, false
	}
	labelHash = binary.BigEndian.Uint32(key[17:21])
	copy(edge[:], key[21:])
	return labelHash, edge, true
}

// VectorKey is the vectors-table key for one layer of a vector.
func VectorKey(id protocol.ID, layer uint8) []byte {
	key := make([]byte, 0, 1+16+1)
	key = append(key, prefixVectors)
	key = append(key, id[:]...)
	return append(key, layer)
}

// VectorPrefix scans every layer of one vector.
func VectorPrefix(id protocol.ID) []byte {
	return append([]byte{prefixVectors}, id[:]...)
}

// SecondaryKey indexes (label, property, encoded value) -> node. The node
// id tail makes the key unique per node; lookups prefix-scan on
// SecondaryPrefix and read the trailing 16 bytes.
func SecondaryKey(labelHash, propHash uint32, valueBytes []byte, node protocol.ID) []byte {
	key := make([]byte, 0, 1+4+4+len(valueBytes)+16)
	key = append(key, prefixSecondary)
	key = appendHash(key, labelHash)
	key = appendHash(key, propHash)
	key = append(key, valueBytes...)
	return append(key, node[:]...)
}

// SecondaryPrefix scans all nodes whose indexed property equals the
// encoded value.
func SecondaryPrefix(labelHash, propHash uint32, valueBytes []byte) []byte {
	key := make([]byte, 0, 1+4+4+len(valueBytes))
	key = append(key, prefixSecondary)
	key = appendHash(key, labelHash)
	key = appendHash(key, propHash)
	return append(key, valueBytes...)
}

// PostingKey stores the term frequency of term in doc.
func PostingKey(labelHash uint32, term string, doc protocol.ID) []byte {
	key := make([]byte, 0, 1+4+len(term)+1+16)
	key = append(key, prefixBM25Postings)
	key = appendHash(key, labelHash)
	key = append(key, term...)
	key = append(key, 0x00)
	return append(key, doc[:]...)
}

// PostingPrefix scans the posting list of term.
func PostingPrefix(labelHash uint32, term string) []byte {
	key := make([]byte, 0, 1+4+len(term)+1)
	key = append(key, prefixBM25Postings)
	key = appendHash(key, labelHash)
	key = append(key, term...)
	return append(key, 0x00)
}

// DocLenKey stores the token count of doc.
func DocLenKey(labelHash uint32, doc protocol.ID) []byte {
	key := make([]byte, 0, 1+4+16)
	key = append(key, prefixBM25DocLen)
	key = appendHash(key, labelHash)
	return append(key, doc[:]...)
}

// DFKey stores the document frequency of term.
func DFKey(labelHash uint32, term string) []byte {
	key := make([]byte, 0, 1+4+len(term))
	key = append(key, prefixBM25DF)
	key = appendHash(key, labelHash)
	return append(key, term...)
}

// BM25MetaKey stores the corpus document count and total length.
func BM25MetaKey(labelHash uint32) []byte {
	key := make([]byte, 0, 1+4)
	key = append(key, prefixBM25Meta)
	return appendHash(key, labelHash)
}

// Engine metadata keys.
var (
	metaTablesKey    = []byte{prefixMeta, 't', 'a', 'b', 'l', 'e', 's'}
	metaHNSWEntryKey = []byte{prefixMeta, 'h', 'n', 's', 'w'}
)

// HNSWEntryKey locates the persisted HNSW entry point.
func HNSWEntryKey() []byte {
	return metaHNSWEntryKey
}

// DocIDFromPostingKey reads the trailing document id of a posting key.
func DocIDFromPostingKey(key []byte) (protocol.ID, bool) {
	if len(key) < 16 {
		return protocol.ID{}, false
	}
	var id protocol.ID
	copy(id[:], key[len(key)-16:])
	return id, true
}

// NodeIDFromSecondaryKey reads the trailing node id of a secondary-index
// key.
func NodeIDFromSecondaryKey(key []byte) (protocol.ID, bool) {
	if len(key) < 1+4+4+16 {
		return protocol.ID{}, false
	}
	var id protocol.ID
	copy(id[:], key[len(key)-16:])
	return id, true
}
