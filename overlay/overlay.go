// Package overlay draws a debug cursor marking the last touch
// position.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"touchlcd.dev/input"
)

const (
	discRadius = 6
	labelPad   = 4
)

var (
	discColor  = color.NRGBA{R: 0xff, A: 0x99}
	labelBg    = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x33}
	labelColor = color.NRGBA{R: 0xff, A: 0xff}
)

// Cursor tracks pointer events and renders a disc at the pressed
// position along with a coordinate label in the top left corner. Both
// are hidden while released.
type Cursor struct {
	last  input.PointerEvent
	shown bool
	label string
}

// Update records e and returns the area that needs redrawing.
func (c *Cursor) Update(e input.PointerEvent) image.Rectangle {
	if e == c.last && c.shown {
		return image.Rectangle{}
	}
	damage := c.bounds()
	c.last = e
	c.shown = true
	c.label = ""
	if e.Pressed {
		c.label = fmt.Sprintf("x:%d y:%d", e.Pos.X, e.Pos.Y)
	}
	return damage.Union(c.bounds())
}

func (c *Cursor) bounds() image.Rectangle {
	if !c.shown || !c.last.Pressed {
		return image.Rectangle{}
	}
	return c.labelBounds().Union(c.discBounds())
}

func (c *Cursor) discBounds() image.Rectangle {
	p := c.last.Pos
	return image.Rect(p.X-discRadius, p.Y-discRadius, p.X+discRadius+1, p.Y+discRadius+1)
}

func (c *Cursor) labelBounds() image.Rectangle {
	face := basicfont.Face7x13
	w := font.MeasureString(face, c.label).Ceil()
	h := face.Metrics().Height.Ceil()
	return image.Rect(labelPad, labelPad, labelPad+w+2*labelPad, labelPad+h+2*labelPad)
}

// Draw renders the cursor onto dst.
func (c *Cursor) Draw(dst draw.Image) {
	if !c.last.Pressed {
		return
	}
	lr := c.labelBounds()
	draw.Draw(dst, lr, image.NewUniform(labelBg), image.Point{}, draw.Over)
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(lr.Min.X+labelPad, lr.Min.Y+labelPad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(c.label)

	b := dst.Bounds()
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), dst, b)
	f := rasterx.NewFiller(b.Dx(), b.Dy(), scanner)
	p := c.last.Pos
	rasterx.AddCircle(float64(p.X), float64(p.Y), discRadius, f)
	f.SetColor(discColor)
	f.Draw()
}
