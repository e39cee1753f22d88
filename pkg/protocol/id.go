package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit, time-ordered identifier for nodes, edges and vectors.
//
// IDs are UUIDv6, so their big-endian byte order matches their creation
// order. Keys built from IDs therefore sort chronologically, which keeps
// adjacency scans and bulk loads append-friendly.
type ID [16]byte

// NewID allocates a fresh UUIDv6 identifier.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV6()))
}

// ParseID parses the canonical UUID string form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q is not a valid id", ErrInvalidInput, s)
	}
	return ID(u), nil
}

// IDFromBytes copies a 16-byte slice into an ID.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != 16 {
		return ID{}, fmt.Errorf("%w: id must be 16 bytes, got %d", ErrInvalidInput, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether the ID is the all-zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns the big-endian byte form used in keys.
func (id ID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// Compare orders IDs by their big-endian byte value, which for UUIDv6
// equals creation order.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// String renders the canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// MarshalJSON encodes the ID as its UUID string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts the UUID string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
