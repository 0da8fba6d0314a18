package protocol

import "fmt"

// Go types carried by each Kind:
//
//	varint, uint -> uint32    byte -> uint8       boolean -> bool
//	short -> int16            ushort -> uint16    int -> int32
//	long -> int64             ulong -> uint64     float -> float32
//	double -> float64         string -> string    bytearray, remaining -> []byte
//	position -> Position      slot -> Slot

// WriteValue encodes v with the writer for kind.
func (w *Writer) WriteValue(kind Kind, v any) error {
	mismatch := func() error {
		return fmt.Errorf("%w: %s cannot carry %T", ErrFieldTypeMismatch, kind, v)
	}
	switch kind {
	case KindVarInt:
		x, ok := v.(uint32)
		if !ok {
			return mismatch()
		}
		w.WriteVarInt(x)
	case KindByte:
		x, ok := v.(uint8)
		if !ok {
			return mismatch()
		}
		_ = w.WriteByte(x)
	case KindBoolean:
		x, ok := v.(bool)
		if !ok {
			return mismatch()
		}
		w.WriteBool(x)
	case KindShort:
		x, ok := v.(int16)
		if !ok {
			return mismatch()
		}
		w.WriteShort(x)
	case KindUShort:
		x, ok := v.(uint16)
		if !ok {
			return mismatch()
		}
		w.WriteUShort(x)
	case KindInt:
		x, ok := v.(int32)
		if !ok {
			return mismatch()
		}
		w.WriteInt(x)
	case KindUInt:
		x, ok := v.(uint32)
		if !ok {
			return mismatch()
		}
		w.WriteUInt(x)
	case KindLong:
		x, ok := v.(int64)
		if !ok {
			return mismatch()
		}
		w.WriteLong(x)
	case KindULong:
		x, ok := v.(uint64)
		if !ok {
			return mismatch()
		}
		w.WriteULong(x)
	case KindFloat:
		x, ok := v.(float32)
		if !ok {
			return mismatch()
		}
		w.WriteFloat(x)
	case KindDouble:
		x, ok := v.(float64)
		if !ok {
			return mismatch()
		}
		w.WriteDouble(x)
	case KindString:
		x, ok := v.(string)
		if !ok {
			return mismatch()
		}
		return w.WriteString(x)
	case KindByteArray:
		x, ok := v.([]byte)
		if !ok {
			return mismatch()
		}
		return w.WritePrefixedBytes(x)
	case KindRemaining:
		x, ok := v.([]byte)
		if !ok {
			return mismatch()
		}
		w.WriteRaw(x)
	case KindPosition:
		x, ok := v.(Position)
		if !ok {
			return mismatch()
		}
		return w.WritePosition(x)
	case KindSlot:
		x, ok := v.(Slot)
		if !ok {
			return mismatch()
		}
		return w.WriteSlot(x)
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrFieldTypeMismatch, kind)
	}
	return nil
}

// ReadValue decodes one value of kind, returning the Go type WriteValue
// accepts for the same kind.
func (r *Reader) ReadValue(kind Kind) (any, error) {
	switch kind {
	case KindVarInt:
		return r.ReadVarInt()
	case KindByte:
		return r.ReadByte()
	case KindBoolean:
		return r.ReadBool()
	case KindShort:
		return r.ReadShort()
	case KindUShort:
		return r.ReadUShort()
	case KindInt:
		return r.ReadInt()
	case KindUInt:
		return r.ReadUInt()
	case KindLong:
		return r.ReadLong()
	case KindULong:
		return r.ReadULong()
	case KindFloat:
		return r.ReadFloat()
	case KindDouble:
		return r.ReadDouble()
	case KindString:
		return r.ReadString()
	case KindByteArray:
		return r.ReadPrefixedBytes()
	case KindRemaining:
		return r.ReadRemaining(), nil
	case KindPosition:
		return r.ReadPosition()
	case KindSlot:
		return r.ReadSlot()
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrFieldTypeMismatch, kind)
	}
}

// Scan assigns decoded values to pointer targets in order. Each target must
// point at exactly the Go type the value carries.
func Scan(values []any, dst ...any) error {
	if len(values) != len(dst) {
		return fmt.Errorf("%w: have %d values, want %d", ErrFieldCountMismatch, len(values), len(dst))
	}
	for i, d := range dst {
		if err := assign(d, values[i]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

func assign(dst, v any) error {
	ok := true
	switch p := dst.(type) {
	case *uint8:
		*p, ok = v.(uint8)
	case *bool:
		*p, ok = v.(bool)
	case *int16:
		*p, ok = v.(int16)
	case *uint16:
		*p, ok = v.(uint16)
	case *int32:
		*p, ok = v.(int32)
	case *uint32:
		*p, ok = v.(uint32)
	case *int64:
		*p, ok = v.(int64)
	case *uint64:
		*p, ok = v.(uint64)
	case *float32:
		*p, ok = v.(float32)
	case *float64:
		*p, ok = v.(float64)
	case *string:
		*p, ok = v.(string)
	case *[]byte:
		*p, ok = v.([]byte)
	case *Position:
		*p, ok = v.(Position)
	case *Slot:
		*p, ok = v.(Slot)
	default:
		ok = false
	}
	if !ok {
		return fmt.Errorf("%w: cannot assign %T to %T", ErrFieldTypeMismatch, v, dst)
	}
	return nil
}
