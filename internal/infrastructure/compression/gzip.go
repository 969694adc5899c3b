package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	apperrors "texstream/pkg/errors"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultLevel favours speed; frames are already JPEG-compressed.
	DefaultLevel = gzip.BestSpeed
	// DefaultMaxOutput bounds a single decompressed payload.
	DefaultMaxOutput = 64 << 20
)

var ErrClosed = errors.New("compressor closed")

// Compressor gzips one payload at a time into a buffer it owns. Every call
// truncates the buffer before writing, so memory stays bounded by the largest
// frame seen.
type Compressor struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	zw     *gzip.Writer
	closed bool
}

// NewCompressor creates a compressor at a gzip level (-2..9, see
// klauspost/compress/gzip).
func NewCompressor(level int) (*Compressor, error) {
	c := &Compressor{}
	zw, err := gzip.NewWriterLevel(&c.buf, level)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeConfiguration, "invalid gzip level", 500)
	}
	c.zw = zw
	return c, nil
}

// Compress returns the gzip stream for src. The slice is only valid until the
// next call or Close.
func (c *Compressor) Compress(src []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.buf.Reset()
	c.zw.Reset(&c.buf)
	if _, err := c.zw.Write(src); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := c.zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return c.buf.Bytes(), nil
}

// Close releases the writer and its buffer. Calling it more than once is
// safe.
func (c *Compressor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.zw.Close()
	c.zw = nil
	c.buf = bytes.Buffer{}
	return err
}

func (c *Compressor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Decompressor is the receiving side of Compressor, reusing its reader and
// output buffer across payloads.
type Decompressor struct {
	mu        sync.Mutex
	zr        *gzip.Reader
	out       bytes.Buffer
	maxOutput int64
}

// NewDecompressor creates a decompressor. maxOutput <= 0 means
// DefaultMaxOutput.
func NewDecompressor(maxOutput int64) *Decompressor {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Decompressor{maxOutput: maxOutput}
}

// Decompress inflates one complete gzip payload. Empty, truncated or invalid
// input fails with a CORRUPT_STREAM error. The result is only valid until the
// next call.
func (d *Decompressor) Decompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, apperrors.NewCorruptStreamError("empty payload", nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.zr == nil {
		d.zr, err = gzip.NewReader(bytes.NewReader(src))
	} else {
		err = d.zr.Reset(bytes.NewReader(src))
	}
	if err != nil {
		return nil, apperrors.NewCorruptStreamError("invalid gzip header", err)
	}
	// one payload is one gzip member
	d.zr.Multistream(false)

	d.out.Reset()
	n, err := io.Copy(&d.out, io.LimitReader(d.zr, d.maxOutput+1))
	if err != nil {
		return nil, apperrors.NewCorruptStreamError("truncated or corrupt gzip stream", err)
	}
	if n > d.maxOutput {
		return nil, apperrors.NewCorruptStreamError(fmt.Sprintf("payload inflates past %d bytes", d.maxOutput), nil)
	}
	return d.out.Bytes(), nil
}

// Compress is the allocating form of Compressor.Compress.
func Compress(src []byte) ([]byte, error) {
	c, err := NewCompressor(gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	out, err := c.Compress(src)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(out), nil
}

// Decompress is the allocating form of Decompressor.Decompress.
func Decompress(src []byte) ([]byte, error) {
	out, err := NewDecompressor(0).Decompress(src)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(out), nil
}
