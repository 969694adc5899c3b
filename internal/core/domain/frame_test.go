package domain

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rgbOf(b *PixelBuffer, x, y int) [3]uint8 {
	r, g, bl := b.RGBAt(x, y)
	return [3]uint8{r, g, bl}
}

func TestNewPixelBuffer(t *testing.T) {
	b := NewPixelBuffer(4, 3)
	assert.Equal(t, 4, b.Width())
	assert.Equal(t, 3, b.Height())
	assert.Equal(t, 12, b.Stride())
	assert.Len(t, b.Pix, 36)
	assert.True(t, b.Matches(4, 3))
	assert.False(t, b.Matches(3, 4))

	empty := NewPixelBuffer(-2, -5)
	assert.Zero(t, empty.Width())
	assert.Zero(t, empty.Height())
	assert.Empty(t, empty.Pix)

	var missing *PixelBuffer
	assert.False(t, missing.Matches(0, 0))
}

func TestPixelBuffer_SetRGBOutOfRange(t *testing.T) {
	b := NewPixelBuffer(2, 2)
	b.SetRGB(1, 1, 9, 8, 7)
	assert.Equal(t, [3]uint8{9, 8, 7}, rgbOf(b, 1, 1))

	for _, pt := range [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}} {
		b.SetRGB(pt[0], pt[1], 255, 255, 255)
		assert.Equal(t, [3]uint8{}, rgbOf(b, pt[0], pt[1]), "point %v", pt)
	}
	assert.Equal(t, [3]uint8{}, rgbOf(b, 0, 0))
}

func TestPixelBuffer_Fill(t *testing.T) {
	b := NewPixelBuffer(3, 2)
	b.Fill(color.RGBA{R: 1, G: 2, B: 3, A: 255})
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, [3]uint8{1, 2, 3}, rgbOf(b, x, y))
		}
	}
}

func TestPixelBuffer_CopyFrom(t *testing.T) {
	src := NewPixelBuffer(3, 2)
	src.Fill(color.White)

	dst := NewPixelBuffer(3, 2)
	require.True(t, dst.CopyFrom(src))
	assert.Equal(t, src.Pix, dst.Pix)
	assert.NotSame(t, &src.Pix[0], &dst.Pix[0])

	other := NewPixelBuffer(2, 3)
	assert.False(t, other.CopyFrom(src))
	assert.Equal(t, [3]uint8{}, rgbOf(other, 0, 0))
}

func TestPixelBuffer_StoreRGBA(t *testing.T) {
	b := NewPixelBuffer(2, 2)
	b.SetRGB(1, 0, 10, 20, 30)

	dst := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.True(t, b.StoreRGBA(dst))
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, dst.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{A: 255}, dst.RGBAAt(0, 1))

	wrong := image.NewRGBA(image.Rect(0, 0, 3, 2))
	assert.False(t, b.StoreRGBA(wrong))
	assert.Equal(t, color.RGBA{}, wrong.RGBAAt(1, 0))
}

func TestPixelBuffer_LoadImage(t *testing.T) {
	want := color.RGBA{R: 200, G: 40, B: 90, A: 255}

	rgba := image.NewRGBA(image.Rect(0, 0, 4, 2))
	nrgba := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	gray := image.NewGray(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			rgba.SetRGBA(x, y, want)
			nrgba.Set(x, y, want)
			gray.SetGray(x, y, color.Gray{Y: 77})
		}
	}

	ycbcr := image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio444)
	yy, cb, cr := color.RGBToYCbCr(want.R, want.G, want.B)
	for i := range ycbcr.Y {
		ycbcr.Y[i] = yy
	}
	for i := range ycbcr.Cb {
		ycbcr.Cb[i], ycbcr.Cr[i] = cb, cr
	}

	// Bounds not anchored at the origin.
	offset := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 2; y < 4; y++ {
		for x := 4; x < 8; x++ {
			offset.SetRGBA(x, y, want)
		}
	}
	sub := offset.SubImage(image.Rect(4, 2, 8, 4))

	tests := []struct {
		name      string
		img       image.Image
		want      [3]uint8
		tolerance int
	}{
		{name: "rgba", img: rgba, want: [3]uint8{200, 40, 90}},
		{name: "rgba sub-image", img: sub, want: [3]uint8{200, 40, 90}},
		{name: "ycbcr", img: ycbcr, want: [3]uint8{200, 40, 90}, tolerance: 2},
		{name: "gray", img: gray, want: [3]uint8{77, 77, 77}},
		{name: "nrgba falls back to At", img: nrgba, want: [3]uint8{200, 40, 90}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewPixelBuffer(4, 2)
			require.True(t, b.LoadImage(tt.img))
			for _, pt := range [][2]int{{0, 0}, {3, 1}} {
				got := rgbOf(b, pt[0], pt[1])
				for i := range got {
					assert.InDelta(t, int(tt.want[i]), int(got[i]), float64(tt.tolerance), "channel %d at %v", i, pt)
				}
			}
		})
	}
}

func TestPixelBuffer_LoadImageSizeMismatch(t *testing.T) {
	b := NewPixelBuffer(4, 2)
	b.Fill(color.White)

	src := image.NewGray(image.Rect(0, 0, 2, 4))
	assert.False(t, b.LoadImage(src))
	assert.Equal(t, [3]uint8{255, 255, 255}, rgbOf(b, 0, 0))
}

func TestPixelBuffer_IsDrawImage(t *testing.T) {
	b := NewPixelBuffer(2, 1)
	b.Set(1, 0, color.RGBA{R: 5, G: 6, B: 7, A: 255})

	assert.Equal(t, image.Rect(0, 0, 2, 1), b.Bounds())
	assert.Equal(t, color.RGBA{R: 5, G: 6, B: 7, A: 255}, b.At(1, 0))
	assert.Equal(t, color.RGBA{A: 255}, b.At(5, 5))
	assert.Equal(t, color.RGBAModel, b.ColorModel())
}
