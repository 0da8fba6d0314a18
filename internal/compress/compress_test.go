package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/blockgate/internal/testutil/testlog"
)

func TestCodecsRoundTrip(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(7))
	noise := make([]byte, 4096)
	rng.Read(noise)

	inputs := map[string][]byte{
		"empty":      {},
		"repetitive": bytes.Repeat([]byte("chunk data "), 512),
		"noise":      noise,
		"short":      []byte("hi"),
	}
	for _, name := range Names() {
		codec, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, codec.Name())
		for label, in := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				packed, err := codec.Compress(in)
				require.NoError(t, err)
				out, err := codec.Decompress(packed, len(in))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out), "round trip mismatch")
			})
		}
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	testlog.Start(t)
	in := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 1024)
	for _, name := range Names() {
		codec, err := Lookup(name)
		require.NoError(t, err)
		packed, err := codec.Compress(in)
		require.NoError(t, err)
		assert.Less(t, len(packed), len(in)/4, name)
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	testlog.Start(t)
	in := bytes.Repeat([]byte("abc"), 100)
	for _, name := range Names() {
		codec, err := Lookup(name)
		require.NoError(t, err)
		packed, err := codec.Compress(in)
		require.NoError(t, err)
		_, err = codec.Decompress(packed, len(in)+1)
		assert.Error(t, err, name)
	}
}

func TestDecompressCorrupt(t *testing.T) {
	testlog.Start(t)
	_, err := Zlib{}.Decompress([]byte{0xDE, 0xAD}, 4)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = LZ4{}.Decompress(nil, 4)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = LZ4{}.Decompress([]byte{0x09, 0x00}, 1)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLZ4IncompressibleFallsBackToRaw(t *testing.T) {
	testlog.Start(t)
	packed, err := LZ4{}.Compress([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, []byte{lz4ModeRaw, 'x', 'y', 'z'}, packed)
}

func TestLookup(t *testing.T) {
	testlog.Start(t)
	c, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, Default, c.Name())

	_, err = Lookup("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)
	assert.Equal(t, []string{"lz4", "snappy", "zlib"}, Names())
}
