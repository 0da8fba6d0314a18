package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/blockgate/internal/protocol"
)

var (
	ErrShortFrame      = errors.New("frame: short frame")
	ErrFrameTooLarge   = errors.New("frame: frame too large")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrEmptyFrame      = errors.New("frame: frame has no packet id")
)

// Frame is one transport message: VarInt(len) VarInt(packet id) payload,
// where len covers the id and the payload.
type Frame struct {
	PacketID uint32
	Payload  []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes        uint32
	MaxUncompressedBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes:        2 * 1024 * 1024,
		MaxUncompressedBytes: 8 * 1024 * 1024,
	}
}

// AppendFrame appends the transport encoding of (id, payload) to dst.
func AppendFrame(dst []byte, id uint32, payload []byte) []byte {
	n := protocol.VarIntSize(id) + len(payload)
	dst = protocol.AppendVarInt(dst, uint32(n))
	dst = protocol.AppendVarInt(dst, id)
	return append(dst, payload...)
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	n := protocol.VarIntSize(f.PacketID) + len(f.Payload)
	if uint64(n) > uint64(limits.MaxFrameBytes) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}
	buf := AppendFrame(make([]byte, 0, n+protocol.MaxVarIntLen), f.PacketID, f.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. A clean EOF before the first length byte is
// returned as io.EOF so read loops can stop without logging an error.
func ReadFrame(r *bufio.Reader, limits Limits) (Frame, error) {
	n, err := protocol.ReadVarIntFrom(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortFrame
		}
		return Frame{}, err
	}
	if n == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if n > limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortFrame
		}
		return Frame{}, err
	}
	br := protocol.NewReader(body)
	id, err := br.ReadVarInt()
	if err != nil {
		return Frame{}, err
	}
	return Frame{PacketID: id, Payload: br.ReadRemaining()}, nil
}
