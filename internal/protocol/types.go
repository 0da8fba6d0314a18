package protocol

import "fmt"

// Kind is the wire encoding of one packet field.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVarInt
	KindByte
	KindBoolean
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindLong
	KindULong
	KindFloat
	KindDouble
	KindString
	// KindByteArray is a VarInt length followed by that many bytes.
	KindByteArray
	// KindRemaining consumes every byte left in the payload.
	KindRemaining
	KindPosition
	KindSlot
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindVarInt:    "varint",
	KindByte:      "byte",
	KindBoolean:   "boolean",
	KindShort:     "short",
	KindUShort:    "ushort",
	KindInt:       "int",
	KindUInt:      "uint",
	KindLong:      "long",
	KindULong:     "ulong",
	KindFloat:     "float",
	KindDouble:    "double",
	KindString:    "string",
	KindByteArray: "bytearray",
	KindRemaining: "remaining",
	KindPosition:  "position",
	KindSlot:      "slot",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names a known encoding.
func (k Kind) Valid() bool {
	return k > KindInvalid && k <= KindSlot
}

// Trailing reports whether k reads to the end of its region and therefore
// must be the last field of a packet.
func (k Kind) Trailing() bool {
	return k == KindRemaining || k == KindSlot
}

const (
	positionXBits = 26
	positionYBits = 12
	positionZBits = 26

	PositionMinXZ = -(1 << (positionXBits - 1))
	PositionMaxXZ = 1<<(positionXBits-1) - 1
	PositionMinY  = -(1 << (positionYBits - 1))
	PositionMaxY  = 1<<(positionYBits-1) - 1

	maskXZ = 1<<positionXBits - 1
	maskY  = 1<<positionYBits - 1
)

// Position is a block coordinate packed into one 64-bit value:
// X in bits 63-38, Y in bits 37-26, Z in bits 25-0, all two's complement.
type Position struct {
	X int32
	Y int32
	Z int32
}

// Pack encodes p, rejecting coordinates outside the 26/12/26-bit ranges.
func (p Position) Pack() (uint64, error) {
	if p.X < PositionMinXZ || p.X > PositionMaxXZ ||
		p.Z < PositionMinXZ || p.Z > PositionMaxXZ ||
		p.Y < PositionMinY || p.Y > PositionMaxY {
		return 0, fmt.Errorf("%w: position %d,%d,%d", ErrValueOutOfRange, p.X, p.Y, p.Z)
	}
	return uint64(uint32(p.X)&maskXZ)<<38 |
		uint64(uint32(p.Y)&maskY)<<26 |
		uint64(uint32(p.Z)&maskXZ), nil
}

// UnpackPosition sign-extends each packed coordinate with arithmetic shifts.
func UnpackPosition(v uint64) Position {
	return Position{
		X: int32(int64(v) >> 38),
		Y: int32(int64(v<<26) >> 52),
		Z: int32(int64(v<<38) >> 38),
	}
}

// EmptySlotID marks a slot with no item.
const EmptySlotID int16 = -1

// Slot is an inventory entry. NBT holds the raw tagged-binary blob when the
// item carries extra data; it is nil for "no extra data".
type Slot struct {
	BlockID int16
	Count   uint8
	Damage  int16
	NBT     []byte
}

func (s Slot) Empty() bool {
	return s.BlockID == EmptySlotID
}

// EmptySlot returns the canonical empty slot.
func EmptySlot() Slot {
	return Slot{BlockID: EmptySlotID}
}
