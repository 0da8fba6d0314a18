// Package protocol owns the game wire value encodings.
//
// Ownership boundary:
// - Reader: forward-only cursor decoding wire values from a byte view
// - Writer: growable buffer encoding the same values
// - Kind/Position/Slot value model shared by schema, codec and frame
//
// All fixed-width numerics are big-endian. VarInt is LSB-group-first with a
// continuation bit and at most five groups.
package protocol
