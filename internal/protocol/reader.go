package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// MaxVarIntLen is the longest legal VarInt encoding in bytes.
const MaxVarIntLen = 5

// Reader is a forward-only cursor over an immutable byte view. Slices it
// returns alias the underlying buffer and must not be mutated.
//
// A Reader is not safe for concurrent use; each decode owns its own cursor.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Exhausted reports whether every byte has been consumed.
func (r *Reader) Exhausted() bool {
	return r.off >= len(r.buf)
}

func (r *Reader) need(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidLength, n)
	}
	if rem := len(r.buf) - r.off; rem < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, rem)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

// SubReader carves a bounded child over the next n bytes and advances past
// them. Reads on the child can never cross its boundary.
func (r *Reader) SubReader(n int) (*Reader, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

func (r *Reader) ReadVarInt() (uint32, error) {
	var value uint32
	for i := 0; ; i++ {
		if i == MaxVarIntLen {
			return 0, ErrMalformedVarInt
		}
		if r.off+i >= len(r.buf) {
			return 0, fmt.Errorf("%w: varint cut after %d bytes", ErrTruncated, i)
		}
		b := r.buf[r.off+i]
		value |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			r.off += i + 1
			return value, nil
		}
	}
}

func (r *Reader) PeekByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	return r.buf[r.off], nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// ReadBool treats 1 as true and every other byte as false.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b == 1, nil
}

func (r *Reader) ReadUShort() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadShort() (int16, error) {
	v, err := r.ReadUShort()
	return int16(v), err
}

func (r *Reader) ReadUInt() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadInt() (int32, error) {
	v, err := r.ReadUInt()
	return int32(v), err
}

func (r *Reader) ReadULong() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadLong() (int64, error) {
	v, err := r.ReadULong()
	return int64(v), err
}

func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadUInt()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadULong()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadString reads a VarInt byte length followed by UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	start := r.off
	n, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Remaining()) {
		r.off = start
		return "", fmt.Errorf("%w: string length %d, have %d", ErrTruncated, n, r.Remaining())
	}
	b, _ := r.take(int(n))
	if !utf8.Valid(b) {
		r.off = start
		return "", ErrInvalidEncoding
	}
	return string(b), nil
}

// ReadByteArray reads exactly n bytes.
func (r *Reader) ReadByteArray(n int) ([]byte, error) {
	return r.take(n)
}

// ReadPrefixedBytes reads a VarInt length followed by that many bytes.
func (r *Reader) ReadPrefixedBytes() ([]byte, error) {
	start := r.off
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Remaining()) {
		r.off = start
		return nil, fmt.Errorf("%w: byte array length %d, have %d", ErrTruncated, n, r.Remaining())
	}
	return r.take(int(n))
}

// ReadRemaining consumes the rest of the view.
func (r *Reader) ReadRemaining() []byte {
	b := r.buf[r.off:len(r.buf):len(r.buf)]
	r.off = len(r.buf)
	return b
}

func (r *Reader) ReadPosition() (Position, error) {
	v, err := r.ReadULong()
	if err != nil {
		return Position{}, err
	}
	return UnpackPosition(v), nil
}

// ReadSlot decodes a slot. A non-empty slot's tagged-binary blob runs to the
// end of the reader, so callers decoding a slot that is not last in its
// region should read it through SubReader.
func (r *Reader) ReadSlot() (Slot, error) {
	id, err := r.ReadShort()
	if err != nil {
		return Slot{}, err
	}
	slot := Slot{BlockID: id}
	if slot.Empty() {
		return slot, nil
	}
	if slot.Count, err = r.ReadByte(); err != nil {
		return Slot{}, err
	}
	if slot.Damage, err = r.ReadShort(); err != nil {
		return Slot{}, err
	}
	marker, err := r.PeekByte()
	if err != nil {
		return Slot{}, err
	}
	if marker == 0 {
		r.off++
		return slot, nil
	}
	slot.NBT = r.ReadRemaining()
	return slot, nil
}

// ReadVarIntFrom decodes a VarInt from a byte stream, used by transport
// framing before a full frame is buffered.
func ReadVarIntFrom(br io.ByteReader) (uint32, error) {
	var value uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := br.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		value |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, ErrMalformedVarInt
}
