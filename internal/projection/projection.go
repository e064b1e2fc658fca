// Package projection maps camera-space joint positions to viewport pixels.
package projection

import (
	"image"

	"github.com/golang/geo/r3"
)

// Default viewport settings.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultScale  = 0.9
)

// Projector maps millimeter positions to pixels in a fixed-size viewport.
// The X axis is centered; the Y axis is inverted because joint Y grows
// upward while image rows grow downward.
type Projector struct {
	Width  int
	Height int
	Scale  float64
}

// NewProjector returns a Projector for the 640x480 viewport with scale 0.9.
func NewProjector() Projector {
	return Projector{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Scale:  DefaultScale,
	}
}

// ToPixel projects p onto the viewport. The result is truncated toward zero.
func (p Projector) ToPixel(pos r3.Vector) image.Point {
	x := float64(p.Width)/2 + pos.X*p.Scale/2
	y := float64(p.Height)/2 - pos.Y*p.Scale/2
	return image.Point{X: int(x), Y: int(y)}
}

// Bounds returns the viewport rectangle.
func (p Projector) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.Width, p.Height)
}
