// Package overlay draws skeleton lines and status text on video frames.
package overlay

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// Drawing defaults.
var (
	BoneColor   = color.RGBA{R: 255, A: 255}
	StatusColor = color.RGBA{R: 255, G: 255, A: 255}
	ActiveColor = color.RGBA{G: 255, A: 255}
)

const (
	BoneThickness = 2
	TextScale     = 1.0
	TextThickness = 2
)

// Points maps joint ids to their pixel position for one skeleton.
// Joints below the confidence gate are absent.
type Points map[skeleton.JointID]image.Point

// DrawSkeleton draws every bone whose two joints are present in pts.
// It returns the number of bones drawn.
func DrawSkeleton(img *gocv.Mat, pts Points) int {
	drawn := 0
	for _, b := range skeleton.Bones {
		p1, ok1 := pts[b.From]
		p2, ok2 := pts[b.To]
		if !ok1 || !ok2 {
			continue
		}
		if img != nil {
			gocv.Line(img, p1, p2, BoneColor, BoneThickness)
		}
		drawn++
	}
	return drawn
}

// DrawText writes a status line at org.
func DrawText(img *gocv.Mat, text string, org image.Point, c color.RGBA) {
	if img == nil {
		return
	}
	gocv.PutText(img, text, org, gocv.FontHersheySimplex, TextScale, c, TextThickness)
}
