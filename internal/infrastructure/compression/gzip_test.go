package compression

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	apperrors "texstream/pkg/errors"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress_ExactRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	random := make([]byte, 32<<10)
	rng.Read(random)

	cases := map[string][]byte{
		"single byte": {0x7f},
		"repetitive":  bytes.Repeat([]byte("frame"), 4096),
		"random":      random,
		"empty input": {},
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			packed, err := Compress(src)
			require.NoError(t, err)
			require.NotEmpty(t, packed, "gzip always emits a header")

			unpacked, err := Decompress(packed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(src, unpacked))
		})
	}
}

func TestCompressor_TruncatesBetweenCalls(t *testing.T) {
	c, err := NewCompressor(gzip.BestSpeed)
	require.NoError(t, err)
	defer c.Close()

	large, err := c.Compress(bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7}, 10000))
	require.NoError(t, err)
	largeLen := len(large)

	small, err := c.Compress([]byte("tiny"))
	require.NoError(t, err)
	assert.Less(t, len(small), largeLen, "output must be overwritten, not appended")

	out, err := Decompress(bytes.Clone(small))
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(out))
}

func TestCompressor_CloseIsIdempotent(t *testing.T) {
	c, err := NewCompressor(gzip.DefaultCompression)
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.Closed())

	_, err = c.Compress([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewCompressor_InvalidLevel(t *testing.T) {
	_, err := NewCompressor(42)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestDecompress_CorruptInput(t *testing.T) {
	valid, err := Compress(bytes.Repeat([]byte("payload"), 100))
	require.NoError(t, err)

	badChecksum := bytes.Clone(valid)
	badChecksum[len(badChecksum)-5] ^= 0xff

	rng := rand.New(rand.NewSource(7))
	noise := make([]byte, 256)
	rng.Read(noise)
	noise[0] = 0x00 // never a gzip magic byte

	cases := map[string][]byte{
		"nil":          nil,
		"empty":        {},
		"random bytes": noise,
		"truncated":    valid[:len(valid)/2],
		"bad checksum": badChecksum,
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				out, err := Decompress(src)
				assert.Nil(t, out)
				assert.True(t, errors.Is(err, apperrors.ErrCorruptStream), "got %v", err)
			})
		})
	}
}

func TestDecompressor_ReusableAfterFailure(t *testing.T) {
	d := NewDecompressor(0)

	_, err := d.Decompress([]byte("garbage"))
	require.Error(t, err)

	packed, err := Compress([]byte("hello"))
	require.NoError(t, err)
	out, err := d.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestDecompressor_MaxOutput(t *testing.T) {
	packed, err := Compress(make([]byte, 4096))
	require.NoError(t, err)

	_, err = NewDecompressor(1024).Decompress(packed)
	assert.True(t, errors.Is(err, apperrors.ErrCorruptStream))

	out, err := NewDecompressor(4096).Decompress(packed)
	require.NoError(t, err)
	assert.Len(t, out, 4096)
}
