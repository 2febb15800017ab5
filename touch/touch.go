// Package touch implements the raw-space calibration and coordinate
// mapping of touch samples into display space.
package touch

import (
	"fmt"
	"image"
)

// Sample is a single decoded touch report in raw controller units.
type Sample struct {
	X, Y    uint16
	Pressed bool
}

// Bounds is the raw-space bounding box of the touch samples seen so
// far. The zero value is uninitialized; the first Add sets it.
type Bounds struct {
	XMin, XMax uint16
	YMin, YMax uint16
	Valid      bool
}

// Add widens the bounds to include (x, y) and reports whether any
// bound changed. The first call initializes the bounds to
// [x, x+1) × [y, y+1). Bounds never contract.
func (b *Bounds) Add(x, y uint16) bool {
	if !b.Valid {
		*b = Bounds{
			XMin: x, XMax: inc(x),
			YMin: y, YMax: inc(y),
			Valid: true,
		}
		return true
	}
	changed := false
	if x < b.XMin {
		b.XMin, changed = x, true
	}
	if x > b.XMax {
		b.XMax, changed = x, true
	}
	if y < b.YMin {
		b.YMin, changed = y, true
	}
	if y > b.YMax {
		b.YMax, changed = y, true
	}
	return changed
}

func (b Bounds) String() string {
	if !b.Valid {
		return "x[-] y[-]"
	}
	return fmt.Sprintf("x[%d..%d] y[%d..%d]", b.XMin, b.XMax, b.YMin, b.YMax)
}

func inc(v uint16) uint16 {
	if v == ^uint16(0) {
		return v
	}
	return v + 1
}

// Normalize scales v from the raw span [min, max] into [0, outMax].
// Spans narrower than 2 units normalize to 0.
func Normalize(v, min, max, outMax uint16) uint16 {
	if int(max) <= int(min)+1 {
		return 0
	}
	span := int(max) - int(min)
	q := (int(v) - int(min)) * int(outMax) / span
	return uint16(clamp(q, int(outMax)))
}

// Scale maps v from a dimension of size from into a dimension of
// size to. The result is clamped to [0, to-1].
func Scale(v, from, to int) int {
	if from > 1 && to > 1 && from != to {
		v = v * (to - 1) / (from - 1)
	}
	return clamp(v, to-1)
}

func clamp(v, max int) int {
	switch {
	case v < 0:
		return 0
	case v > max:
		return max
	}
	return v
}

// Rotation is a clockwise rotation by a multiple of 90 degrees.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// ParseRotation parses a rotation in degrees.
func ParseRotation(deg int) (Rotation, error) {
	switch deg {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return 0, fmt.Errorf("touch: invalid rotation: %d", deg)
}

func (r Rotation) String() string {
	switch r {
	case Rotate0:
		return "0°"
	case Rotate90:
		return "90°"
	case Rotate180:
		return "180°"
	case Rotate270:
		return "270°"
	default:
		return fmt.Sprintf("Rotation(%d)", int(r))
	}
}

// Apply rotates p inside a rectangle of size dims and returns the
// rotated point along with the dimensions of the rotated rectangle.
func (r Rotation) Apply(p, dims image.Point) (image.Point, image.Point) {
	w, h := dims.X, dims.Y
	switch r {
	case Rotate90:
		return image.Pt(p.Y, (w-1)-p.X), image.Pt(h, w)
	case Rotate180:
		return image.Pt((w-1)-p.X, (h-1)-p.Y), dims
	case Rotate270:
		return image.Pt((h-1)-p.Y, p.X), image.Pt(h, w)
	default:
		return p, dims
	}
}

// Mapper transforms raw samples into display coordinates in three
// stages: normalization into the nominal controller resolution,
// rotation, and scaling into the display resolution.
type Mapper struct {
	// Nominal is the resolution reported by the controller.
	Nominal image.Point
	// Display is the resolution of the target display.
	Display  image.Point
	Rotation Rotation
}

// Normalize maps the raw sample into [0, Nominal) using the span
// of b. An axis with an unknown nominal maximum falls back to the
// display dimension, or 240×320 when that is unknown as well.
func (m Mapper) Normalize(s Sample, b Bounds) image.Point {
	nx := normMax(m.Nominal.X, m.Display.X, 240)
	ny := normMax(m.Nominal.Y, m.Display.Y, 320)
	return image.Point{
		X: int(Normalize(s.X, b.XMin, b.XMax, nx)),
		Y: int(Normalize(s.Y, b.YMin, b.YMax, ny)),
	}
}

func normMax(nominal, display, def int) uint16 {
	switch {
	case nominal > 0:
		return uint16(nominal - 1)
	case display > 0:
		return uint16(display - 1)
	default:
		return uint16(def - 1)
	}
}

// Rotate applies the rotation to a normalized point.
func (m Mapper) Rotate(p image.Point) (image.Point, image.Point) {
	return m.Rotation.Apply(p, m.Nominal)
}

// ToDisplay scales a rotated point from a rectangle of size dims
// into the display.
func (m Mapper) ToDisplay(p, dims image.Point) image.Point {
	return image.Point{
		X: Scale(p.X, dims.X, m.Display.X),
		Y: Scale(p.Y, dims.Y, m.Display.Y),
	}
}

// Map runs all three stages. If any of the nominal or display
// dimensions are unknown, the normalized point is returned as is.
func (m Mapper) Map(s Sample, b Bounds) image.Point {
	n := m.Normalize(s, b)
	if m.Nominal.X == 0 || m.Nominal.Y == 0 || m.Display.X == 0 || m.Display.Y == 0 {
		return n
	}
	r, dims := m.Rotate(n)
	return m.ToDisplay(r, dims)
}
