// Package rgb16 implements a 16-bit RGB framebuffer in the big-endian
// RGB565 layout expected by panel controllers.
package rgb16

import (
	"image"
	"image/color"
)

// Image is a draw.Image whose pixels are stored as two bytes each,
// most significant byte first.
type Image struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func New(r image.Rectangle) *Image {
	return &Image{
		Pix:    make([]byte, 2*r.Dx()*r.Dy()),
		Stride: 2 * r.Dx(),
		Rect:   r,
	}
}

func (p *Image) Bounds() image.Rectangle {
	return p.Rect
}

func (p *Image) ColorModel() color.Model {
	return color.RGBAModel
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *Image) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

func (p *Image) At(x, y int) color.Color {
	return p.RGBA64At(x, y)
}

func (p *Image) RGBA64At(x, y int) color.RGBA64 {
	if !(image.Point{x, y}).In(p.Rect) {
		return color.RGBA64{}
	}
	i := p.PixOffset(x, y)
	r, g, b := toRGB888(uint16(p.Pix[i])<<8 | uint16(p.Pix[i+1]))
	return color.RGBA64{R: uint16(r) * 0x101, G: uint16(g) * 0x101, B: uint16(b) * 0x101, A: 0xffff}
}

func (p *Image) Set(x, y int, c color.Color) {
	r, g, b, _ := c.RGBA()
	p.set(x, y, toRGB565(uint8(r>>8), uint8(g>>8), uint8(b>>8)))
}

func (p *Image) SetRGBA64(x, y int, c color.RGBA64) {
	p.set(x, y, toRGB565(uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8)))
}

func (p *Image) set(x, y int, c uint16) {
	if !(image.Point{x, y}).In(p.Rect) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i] = byte(c >> 8)
	p.Pix[i+1] = byte(c)
}

// Fill sets every pixel of r to the opaque version of c.
func (p *Image) Fill(r image.Rectangle, c color.Color) {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return
	}
	cr, cg, cb, _ := c.RGBA()
	px := toRGB565(uint8(cr>>8), uint8(cg>>8), uint8(cb>>8))
	hi, lo := byte(px>>8), byte(px)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := p.Pix[p.PixOffset(r.Min.X, y):p.PixOffset(r.Max.X, y)]
		for i := 0; i < len(row); i += 2 {
			row[i], row[i+1] = hi, lo
		}
	}
}

func toRGB565(r, g, b uint8) uint16 {
	return uint16(r&0xf8)<<8 | uint16(g&0xfc)<<3 | uint16(b)>>3
}

func toRGB888(c uint16) (r, g, b uint8) {
	r = uint8(c>>8) & 0xf8
	r |= r >> 5
	g = uint8(c>>3) & 0xfc
	g |= g >> 6
	b = uint8(c << 3)
	b |= b >> 5
	return
}
