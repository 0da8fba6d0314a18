package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("protocol: truncated input")
	ErrMalformedVarInt    = errors.New("protocol: malformed varint")
	ErrInvalidEncoding    = errors.New("protocol: invalid utf-8 encoding")
	ErrUnknownPacketType  = errors.New("protocol: unknown packet type")
	ErrValueOutOfRange    = errors.New("protocol: value out of range")
	ErrFieldTypeMismatch  = errors.New("protocol: field type mismatch")
	ErrFieldCountMismatch = errors.New("protocol: field count mismatch")
	ErrTrailingData       = errors.New("protocol: trailing data")
	ErrInvalidLength      = errors.New("protocol: invalid length")
)

// FieldError attaches the offending field to an encode/decode failure.
type FieldError struct {
	Packet string
	Field  string
	Kind   Kind
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("protocol: packet=%s field=%s kind=%s: %v", e.Packet, e.Field, e.Kind, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
