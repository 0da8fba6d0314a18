// Package compress provides the block codecs the packager can apply to
// packet bodies above the compression threshold.
package compress

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

var (
	ErrUnknownCodec = errors.New("compress: unknown codec")
	ErrCorrupt      = errors.New("compress: corrupt input")
	ErrSizeMismatch = errors.New("compress: decompressed size mismatch")
)

// Codec compresses whole packet bodies. Decompress receives the
// uncompressed size announced on the wire and must produce exactly that
// many bytes.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, size int) ([]byte, error)
}

const (
	NameZlib   = "zlib"
	NameSnappy = "snappy"
	NameLZ4    = "lz4"

	Default = NameZlib
)

var codecs = map[string]Codec{
	NameZlib:   Zlib{Level: zlib.DefaultCompression},
	NameSnappy: Snappy{},
	NameLZ4:    LZ4{},
}

// Lookup resolves a codec by name. An empty name selects Default.
func Lookup(name string) (Codec, error) {
	if name == "" {
		name = Default
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// DefaultCodec returns the codec registered under Default.
func DefaultCodec() Codec {
	return codecs[Default]
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	out := make([]string, 0, len(codecs))
	for name := range codecs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Zlib is the codec game clients expect on the wire.
type Zlib struct {
	Level int
}

func (Zlib) Name() string { return NameZlib }

func (z Zlib) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, z.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Zlib) Decompress(src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short stream for %d bytes", ErrSizeMismatch, size)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: stream longer than %d bytes", ErrSizeMismatch, size)
	}
	return out, nil
}

type Snappy struct{}

func (Snappy) Name() string { return NameSnappy }

func (Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (Snappy) Decompress(src []byte, size int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: have %d want %d", ErrSizeMismatch, n, size)
	}
	out, err := snappy.Decode(make([]byte, n), src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// lz4 blocks carry a leading mode byte because CompressBlock reports
// incompressible input by writing nothing.
const (
	lz4ModeRaw   byte = 0
	lz4ModeBlock byte = 1
)

var lz4Pool = &sync.Pool{New: func() any {
	return &lz4.Compressor{}
}}

type LZ4 struct{}

func (LZ4) Name() string { return NameLZ4 }

func (LZ4) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, 1+lz4.CompressBlockBound(len(src)))
	c := lz4Pool.Get().(*lz4.Compressor)
	n, err := c.CompressBlock(src, dst[1:])
	lz4Pool.Put(c)
	if err != nil {
		return nil, err
	}
	if n == 0 || n >= len(src) {
		dst = append(dst[:1], src...)
		dst[0] = lz4ModeRaw
		return dst, nil
	}
	dst[0] = lz4ModeBlock
	return dst[:1+n], nil
}

func (LZ4) Decompress(src []byte, size int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty lz4 block", ErrCorrupt)
	}
	switch src[0] {
	case lz4ModeRaw:
		if len(src)-1 != size {
			return nil, fmt.Errorf("%w: have %d want %d", ErrSizeMismatch, len(src)-1, size)
		}
		return append([]byte(nil), src[1:]...), nil
	case lz4ModeBlock:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(src[1:], out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: have %d want %d", ErrSizeMismatch, n, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: lz4 mode %d", ErrCorrupt, src[0])
	}
}
