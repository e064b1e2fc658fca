package pointer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/ayusman/kinectcast/internal/overlay"
	"github.com/ayusman/kinectcast/internal/pipeline"
	"github.com/ayusman/kinectcast/internal/skeleton"
)

// DefaultClickThreshold is the hand-to-shoulder distance in millimeters
// below which the button is held.
const DefaultClickThreshold = 350.0

// Config holds the pointer mapping settings.
type Config struct {
	// Box is the region of the viewport mapped onto the whole screen.
	Box image.Rectangle
	// Screen is the target resolution.
	Screen image.Point
	// ClickThreshold is compared with the ClickJoint-AnchorJoint distance.
	ClickThreshold float64

	MoveJoint   skeleton.JointID
	ClickJoint  skeleton.JointID
	AnchorJoint skeleton.JointID
}

// DefaultConfig moves with the right hand and clicks by bringing the left
// hand near the left shoulder.
func DefaultConfig(viewW, viewH int, screen image.Point) Config {
	return Config{
		Box:            CentralBox(viewW, viewH),
		Screen:         screen,
		ClickThreshold: DefaultClickThreshold,
		MoveJoint:      skeleton.RightHand,
		ClickJoint:     skeleton.LeftHand,
		AnchorJoint:    skeleton.LeftShoulder,
	}
}

// CentralBox returns the centered half-size region of a w x h viewport.
func CentralBox(w, h int) image.Rectangle {
	bw, bh := w/2, h/2
	x1 := (w - bw) / 2
	y1 := (h - bh) / 2
	return image.Rect(x1, y1, x1+bw, y1+bh)
}

// MapToScreen clamps p into box and scales it proportionally onto screen.
func MapToScreen(p image.Point, box image.Rectangle, screen image.Point) image.Point {
	x := clamp(p.X, box.Min.X, box.Max.X)
	y := clamp(p.Y, box.Min.Y, box.Max.Y)

	xn := float64(x-box.Min.X) / float64(box.Dx())
	yn := float64(y-box.Min.Y) / float64(box.Dy())

	return image.Point{
		X: int(xn * float64(screen.X)),
		Y: int(yn * float64(screen.Y)),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Controller is the pointer-control sink. It owns the click state.
type Controller struct {
	config Config
	device Device

	mu           sync.Mutex
	enabled      bool
	clicking     bool
	lastDistance float64
	onClick      func(clicking bool)
}

// NewController creates an enabled Controller driving device.
func NewController(config Config, device Device) *Controller {
	if config.ClickThreshold <= 0 {
		config.ClickThreshold = DefaultClickThreshold
	}
	return &Controller{
		config:  config,
		device:  device,
		enabled: true,
	}
}

// Name implements pipeline.Sink.
func (c *Controller) Name() string {
	return "pointer"
}

// OnClickChange sets a callback run whenever the button state flips.
func (c *Controller) OnClickChange(fn func(clicking bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClick = fn
}

// Consume implements pipeline.Sink. Joints at or below the confidence gate
// leave the pointer and the click state untouched for this frame.
func (c *Controller) Consume(ctx context.Context, f *pipeline.Frame) error {
	if !c.Enabled() {
		return nil
	}

	sk := &f.Skeleton

	if sk.Confident(c.config.MoveJoint) {
		if px, ok := f.Points[c.config.MoveJoint]; ok {
			target := MapToScreen(px, c.config.Box, c.config.Screen)
			if err := c.device.Move(target.X, target.Y); err != nil {
				// The click below is independent of the move
				slog.Warn("move pointer failed", "x", target.X, "y", target.Y, "error", err)
			}
		}
	}

	if !sk.Confident(c.config.ClickJoint, c.config.AnchorJoint) {
		return nil
	}

	distance := sk.Distance(c.config.ClickJoint, c.config.AnchorJoint)
	c.mu.Lock()
	c.lastDistance = distance
	c.mu.Unlock()

	down := distance < c.config.ClickThreshold
	if err := c.SetClick(down); err != nil {
		return err
	}

	if down {
		overlay.DrawText(f.Image, "CLICK ACTIVE", image.Point{X: 20, Y: 80}, overlay.ActiveColor)
	}
	overlay.DrawText(f.Image, fmt.Sprintf("Hand-shoulder distance: %.0f mm", distance),
		image.Point{X: 20, Y: 40}, overlay.StatusColor)

	return nil
}

// SetClick presses or releases the button when the requested state differs
// from the current one.
func (c *Controller) SetClick(down bool) error {
	c.mu.Lock()
	if down == c.clicking {
		c.mu.Unlock()
		return nil
	}

	var err error
	if down {
		err = c.device.Press()
	} else {
		err = c.device.Release()
	}
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("set click %v: %w", down, err)
	}

	c.clicking = down
	callback := c.onClick
	c.mu.Unlock()

	slog.Debug("click state changed", "clicking", down)

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(down)
	}
	return nil
}

// SetEnabled turns pointer control on or off. Disabling releases a held button.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()

	if !enabled {
		if err := c.SetClick(false); err != nil {
			slog.Warn("release button on disable", "error", err)
		}
	}
}

// Enabled reports whether pointer control is active.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Clicking reports whether the button is currently held.
func (c *Controller) Clicking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clicking
}

// LastDistance returns the most recent hand-to-anchor distance in millimeters.
func (c *Controller) LastDistance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDistance
}

// Close releases a held button.
func (c *Controller) Close() error {
	return c.SetClick(false)
}
