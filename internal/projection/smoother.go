package projection

import (
	"image"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// DefaultAlpha is the default smoothing factor.
const DefaultAlpha = 0.2

type point2D struct {
	x, y float64
}

// Smoother applies a per-joint exponential moving average to pixel positions.
// State lives for the lifetime of the Smoother; there is no reset.
// A Smoother is owned by a single pipeline goroutine and is not safe for
// concurrent use.
type Smoother struct {
	alpha  float64
	points map[skeleton.JointID]point2D
}

// NewSmoother creates a Smoother with the given alpha.
// Values outside (0, 1] fall back to DefaultAlpha.
func NewSmoother(alpha float64) *Smoother {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Smoother{
		alpha:  alpha,
		points: make(map[skeleton.JointID]point2D),
	}
}

// Alpha returns the smoothing factor in use.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// Smooth feeds a new observation for id and returns the smoothed position.
// The first observation for an id is returned unchanged.
func (s *Smoother) Smooth(id skeleton.JointID, p image.Point) image.Point {
	old, ok := s.points[id]
	if !ok {
		s.points[id] = point2D{x: float64(p.X), y: float64(p.Y)}
		return p
	}

	next := point2D{
		x: old.x + s.alpha*(float64(p.X)-old.x),
		y: old.y + s.alpha*(float64(p.Y)-old.y),
	}
	s.points[id] = next

	return image.Point{X: int(next.x), Y: int(next.y)}
}
