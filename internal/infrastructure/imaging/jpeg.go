package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"texstream/internal/core/domain"
	apperrors "texstream/pkg/errors"
)

// Encoder turns pixel buffers into JPEG bytes. It keeps its scratch image and
// output buffer between calls, so one Encoder belongs to one goroutine.
type Encoder struct {
	quality int
	rgba    *image.RGBA
	out     bytes.Buffer
}

func NewEncoder(quality int) (*Encoder, error) {
	if quality < domain.MinQuality || quality > domain.MaxQuality {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("jpeg quality %d out of range", quality))
	}
	return &Encoder{quality: quality}, nil
}

func (e *Encoder) Quality() int { return e.quality }

// Encode compresses buf at the configured quality. The returned slice is
// overwritten by the next call.
func (e *Encoder) Encode(buf *domain.PixelBuffer) ([]byte, error) {
	if buf == nil || buf.Width() == 0 || buf.Height() == 0 {
		return nil, apperrors.NewInvalidInputError("cannot encode an empty pixel buffer")
	}

	if e.rgba == nil || !buf.Matches(e.rgba.Bounds().Dx(), e.rgba.Bounds().Dy()) {
		e.rgba = image.NewRGBA(image.Rect(0, 0, buf.Width(), buf.Height()))
	}
	buf.StoreRGBA(e.rgba)

	// image/jpeg clamps quality to 1..100.
	q := e.quality
	if q < 1 {
		q = 1
	}

	e.out.Reset()
	if err := jpeg.Encode(&e.out, e.rgba, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return e.out.Bytes(), nil
}

// Encode is the allocating form of Encoder.Encode.
func Encode(buf *domain.PixelBuffer, quality int) ([]byte, error) {
	enc, err := NewEncoder(quality)
	if err != nil {
		return nil, err
	}
	data, err := enc.Encode(buf)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

// DefaultMaxPixels is the largest frame Decode accepts.
const DefaultMaxPixels = domain.DefaultMaxFramePixels

// Decode parses JPEG data into dst, allocating a new buffer when dst is nil
// or its dimensions differ from the image. dst is only written on success.
func Decode(data []byte, dst *domain.PixelBuffer) (*domain.PixelBuffer, error) {
	return DecodeLimited(data, dst, DefaultMaxPixels)
}

// DecodeLimited is Decode for untrusted input: the header is read first and
// an image claiming more than maxPixels pixels is refused before any pixel
// memory is allocated. The JPEG decoder sizes its planes from the header,
// so a few hundred bytes can otherwise demand gigabytes.
func DecodeLimited(data []byte, dst *domain.PixelBuffer, maxPixels int64) (*domain.PixelBuffer, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("empty image data", nil)
	}

	w, h, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, apperrors.NewDecodeError("jpeg has no pixels", nil)
	}
	if maxPixels > 0 && int64(w)*int64(h) > maxPixels {
		return nil, apperrors.NewDecodeError(
			fmt.Sprintf("jpeg claims %dx%d, over the %d pixel limit", w, h, maxPixels), nil)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("malformed jpeg", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, apperrors.NewDecodeError("jpeg has no pixels", nil)
	}
	if !dst.Matches(b.Dx(), b.Dy()) {
		dst = domain.NewPixelBuffer(b.Dx(), b.Dy())
	}
	dst.LoadImage(img)
	return dst, nil
}

// DecodeConfig reports the dimensions of JPEG data without decoding pixels.
func DecodeConfig(data []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, apperrors.NewDecodeError("malformed jpeg header", err)
	}
	return cfg.Width, cfg.Height, nil
}
