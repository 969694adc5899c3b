package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"texstream/internal/core/domain"

	"golang.org/x/image/draw"
)

// Scaler names an interpolation used to fit the source into the bound size.
type Scaler string

const (
	ScalerNearest    Scaler = "nearest"
	ScalerBilinear   Scaler = "bilinear"
	ScalerCatmullRom Scaler = "catmullrom"
)

func (s Scaler) interpolator() draw.Scaler {
	switch s {
	case ScalerNearest:
		return draw.NearestNeighbor
	case ScalerCatmullRom:
		return draw.CatmullRom
	default:
		return draw.ApproxBiLinear
	}
}

// ImageSurface captures whatever image was last handed to SetSource, scaled
// to the bound size. Sources of any size or colour model are accepted.
type ImageSurface struct {
	renderTarget
	scaler draw.Scaler

	srcMu  sync.RWMutex
	source image.Image
}

func NewImageSurface(source image.Image, scaler Scaler) *ImageSurface {
	return &ImageSurface{source: source, scaler: scaler.interpolator()}
}

// LoadImageSurface decodes a PNG or JPEG file as the surface source.
func LoadImageSurface(path string, scaler Scaler) (*ImageSurface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture source: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode capture source %s: %w", path, err)
	}
	return NewImageSurface(img, scaler), nil
}

// SetSource swaps the image the next snapshot is taken from.
func (s *ImageSurface) SetSource(img image.Image) {
	s.srcMu.Lock()
	s.source = img
	s.srcMu.Unlock()
}

func (s *ImageSurface) Bind(width, height int) error {
	return s.bind(width, height)
}

func (s *ImageSurface) Snapshot(ctx context.Context, dst *domain.PixelBuffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.srcMu.RLock()
	src := s.source
	s.srcMu.RUnlock()
	if src == nil || src.Bounds().Empty() {
		return fmt.Errorf("capture source is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rgba == nil {
		return ErrNotBound
	}

	if src.Bounds().Size() == s.rgba.Bounds().Size() {
		draw.Draw(s.rgba, s.rgba.Bounds(), src, src.Bounds().Min, draw.Src)
	} else {
		s.scaler.Scale(s.rgba, s.rgba.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	if !dst.LoadImage(s.rgba) {
		return errSizeMismatch(dst, s.rgba.Bounds())
	}
	return nil
}

func (s *ImageSurface) Release() error {
	return s.release()
}

func errSizeMismatch(dst *domain.PixelBuffer, bound image.Rectangle) error {
	return fmt.Errorf("snapshot buffer is %dx%d, surface is bound to %dx%d",
		dst.Width(), dst.Height(), bound.Dx(), bound.Dy())
}
