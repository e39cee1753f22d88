package protocol

import "errors"

// Error kinds shared across the engine. Components wrap these with %w so
// callers can classify failures without knowing which layer produced them.
var (
	// ErrConversion means a decoder rejected a bytes-to-value conversion.
	ErrConversion = errors.New("conversion error")

	// ErrInvalidInput means a caller-supplied parameter violated its
	// constraint (wrong dimension, malformed id, missing field).
	ErrInvalidInput = errors.New("invalid input")
)
