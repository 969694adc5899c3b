package domain

import (
	"image"
	"image/color"
)

// BytesPerPixel is the size of one RGB24 pixel.
const BytesPerPixel = 3

// PixelBuffer is a mutable RGB24 image with dimensions fixed at allocation.
// Reuse overwrites Pix in place; a buffer of a different size is a different
// buffer.
type PixelBuffer struct {
	width  int
	height int
	Pix    []byte
}

func NewPixelBuffer(width, height int) *PixelBuffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &PixelBuffer{
		width:  width,
		height: height,
		Pix:    make([]byte, width*height*BytesPerPixel),
	}
}

func (b *PixelBuffer) Width() int  { return b.width }
func (b *PixelBuffer) Height() int { return b.height }

// Stride is the number of bytes between vertically adjacent pixels.
func (b *PixelBuffer) Stride() int { return b.width * BytesPerPixel }

// Matches reports whether the buffer has exactly the given dimensions.
func (b *PixelBuffer) Matches(width, height int) bool {
	return b != nil && b.width == width && b.height == height
}

func (b *PixelBuffer) offset(x, y int) int {
	return y*b.Stride() + x*BytesPerPixel
}

// SetRGB writes one pixel. Out of range coordinates are ignored.
func (b *PixelBuffer) SetRGB(x, y int, r, g, bl uint8) {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return
	}
	i := b.offset(x, y)
	b.Pix[i], b.Pix[i+1], b.Pix[i+2] = r, g, bl
}

// RGBAt returns the pixel at (x, y), or black when out of range.
func (b *PixelBuffer) RGBAt(x, y int) (r, g, bl uint8) {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return 0, 0, 0
	}
	i := b.offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

// Fill paints the whole buffer with c.
func (b *PixelBuffer) Fill(c color.Color) {
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	for i := 0; i+2 < len(b.Pix); i += BytesPerPixel {
		b.Pix[i], b.Pix[i+1], b.Pix[i+2] = rgba.R, rgba.G, rgba.B
	}
}

// CopyFrom overwrites b with src. Both buffers must have the same size.
func (b *PixelBuffer) CopyFrom(src *PixelBuffer) bool {
	if !b.Matches(src.width, src.height) {
		return false
	}
	copy(b.Pix, src.Pix)
	return true
}

// LoadImage overwrites b with img, which must have b's dimensions. Pixels
// outside img's bounds are left untouched.
func (b *PixelBuffer) LoadImage(img image.Image) bool {
	bounds := img.Bounds()
	if !b.Matches(bounds.Dx(), bounds.Dy()) {
		return false
	}

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < b.height; y++ {
			off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := src.Pix[off : off+b.width*4]
			dst := b.Pix[y*b.Stride() : (y+1)*b.Stride()]
			for x, j := 0, 0; x < b.width; x, j = x+1, j+4 {
				dst[x*3], dst[x*3+1], dst[x*3+2] = row[j], row[j+1], row[j+2]
			}
		}
	case *image.YCbCr:
		for y := 0; y < b.height; y++ {
			dst := b.Pix[y*b.Stride() : (y+1)*b.Stride()]
			for x := 0; x < b.width; x++ {
				yi := src.YOffset(bounds.Min.X+x, bounds.Min.Y+y)
				ci := src.COffset(bounds.Min.X+x, bounds.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				dst[x*3], dst[x*3+1], dst[x*3+2] = r, g, bl
			}
		}
	case *image.Gray:
		for y := 0; y < b.height; y++ {
			off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := src.Pix[off : off+b.width]
			dst := b.Pix[y*b.Stride() : (y+1)*b.Stride()]
			for x, v := range row {
				dst[x*3], dst[x*3+1], dst[x*3+2] = v, v, v
			}
		}
	default:
		for y := 0; y < b.height; y++ {
			for x := 0; x < b.width; x++ {
				c := color.RGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.RGBA)
				b.SetRGB(x, y, c.R, c.G, c.B)
			}
		}
	}
	return true
}

// StoreRGBA writes b into dst, which must have b's dimensions. Alpha is opaque.
func (b *PixelBuffer) StoreRGBA(dst *image.RGBA) bool {
	bounds := dst.Bounds()
	if !b.Matches(bounds.Dx(), bounds.Dy()) {
		return false
	}
	for y := 0; y < b.height; y++ {
		src := b.Pix[y*b.Stride() : (y+1)*b.Stride()]
		off := dst.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		row := dst.Pix[off : off+b.width*4]
		for x, j := 0, 0; x < b.width; x, j = x+1, j+4 {
			row[j], row[j+1], row[j+2], row[j+3] = src[x*3], src[x*3+1], src[x*3+2], 0xff
		}
	}
	return true
}

// ColorModel, Bounds, At and Set make PixelBuffer a draw.Image.

func (b *PixelBuffer) ColorModel() color.Model { return color.RGBAModel }

func (b *PixelBuffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.width, b.height) }

func (b *PixelBuffer) At(x, y int) color.Color {
	r, g, bl := b.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: bl, A: 0xff}
}

func (b *PixelBuffer) Set(x, y int, c color.Color) {
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	b.SetRGB(x, y, rgba.R, rgba.G, rgba.B)
}
