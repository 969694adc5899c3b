package capture

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"texstream/internal/core/domain"
)

// Pattern selects what a PatternSurface renders.
type Pattern int

const (
	// PatternSolid fills the frame with one colour.
	PatternSolid Pattern = iota
	// PatternBars draws vertical colour bars that scroll by one step per
	// snapshot, so motion is visible on the receiving end.
	PatternBars
)

var bars = []color.RGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, B: 0, A: 255},
	{R: 0, G: 192, B: 192, A: 255},
	{R: 0, G: 192, B: 0, A: 255},
	{R: 192, G: 0, B: 192, A: 255},
	{R: 192, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 192, A: 255},
}

// PatternSurface is a synthetic capture surface.
type PatternSurface struct {
	renderTarget
	pattern Pattern
	color   color.RGBA
	step    int
}

func NewSolidSurface(c color.RGBA) *PatternSurface {
	return &PatternSurface{pattern: PatternSolid, color: c}
}

func NewBarsSurface() *PatternSurface {
	return &PatternSurface{pattern: PatternBars}
}

func (s *PatternSurface) Bind(width, height int) error {
	return s.bind(width, height)
}

func (s *PatternSurface) Snapshot(ctx context.Context, dst *domain.PixelBuffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rgba == nil {
		return ErrNotBound
	}

	switch s.pattern {
	case PatternBars:
		s.drawBars()
	default:
		draw.Draw(s.rgba, s.rgba.Bounds(), image.NewUniform(s.color), image.Point{}, draw.Src)
	}

	if !dst.LoadImage(s.rgba) {
		return errSizeMismatch(dst, s.rgba.Bounds())
	}
	return nil
}

func (s *PatternSurface) drawBars() {
	b := s.rgba.Bounds()
	barWidth := b.Dx() / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	offset := s.step % b.Dx()
	for i := range bars {
		x0 := (i*barWidth + offset) % b.Dx()
		r := image.Rect(x0, 0, x0+barWidth, b.Dy()).Intersect(b)
		draw.Draw(s.rgba, r, image.NewUniform(bars[i]), image.Point{}, draw.Src)
		// wrap the part that ran past the right edge
		if over := x0 + barWidth - b.Dx(); over > 0 {
			draw.Draw(s.rgba, image.Rect(0, 0, over, b.Dy()), image.NewUniform(bars[i]), image.Point{}, draw.Src)
		}
	}
	s.step += max(1, barWidth/8)
}

func (s *PatternSurface) Release() error {
	return s.release()
}
