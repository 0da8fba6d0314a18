package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer appends wire values to a growable buffer. Encoders write straight
// into it so one packet costs one buffer.
type Writer struct {
	buf []byte
}

func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// VarIntSize is the encoded length of v.
func VarIntSize(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

func (w *Writer) WriteVarInt(v uint32) {
	w.buf = AppendVarInt(w.buf, v)
}

// WriteByte never fails; the error return satisfies io.ByteWriter.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteUShort(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteShort(v int16) {
	w.WriteUShort(uint16(v))
}

func (w *Writer) WriteUInt(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt(v int32) {
	w.WriteUInt(uint32(v))
}

func (w *Writer) WriteULong(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteLong(v int64) {
	w.WriteULong(uint64(v))
}

func (w *Writer) WriteFloat(v float32) {
	w.WriteUInt(math.Float32bits(v))
}

func (w *Writer) WriteDouble(v float64) {
	w.WriteULong(math.Float64bits(v))
}

func (w *Writer) WriteString(s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("%w: string of %d bytes", ErrValueOutOfRange, len(s))
	}
	w.WriteVarInt(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WritePrefixedBytes writes a VarInt length followed by b.
func (w *Writer) WritePrefixedBytes(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return fmt.Errorf("%w: byte array of %d bytes", ErrValueOutOfRange, len(b))
	}
	w.WriteVarInt(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// WriteRaw appends b without a length prefix.
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) WritePosition(p Position) error {
	v, err := p.Pack()
	if err != nil {
		return err
	}
	w.WriteULong(v)
	return nil
}

// WriteSlot mirrors ReadSlot. A blob starting with 0x00 would read back as
// "no extra data", so it is rejected.
func (w *Writer) WriteSlot(s Slot) error {
	if !s.Empty() && len(s.NBT) > 0 && s.NBT[0] == 0 {
		return fmt.Errorf("%w: slot nbt starts with end tag", ErrValueOutOfRange)
	}
	w.WriteShort(s.BlockID)
	if s.Empty() {
		return nil
	}
	_ = w.WriteByte(s.Count)
	w.WriteShort(s.Damage)
	if len(s.NBT) == 0 {
		return w.WriteByte(0)
	}
	w.buf = append(w.buf, s.NBT...)
	return nil
}
