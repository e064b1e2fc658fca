// Package pipeline runs the capture-and-project loop shared by the streaming
// and pointer-control applications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinectcast/internal/capture"
	"github.com/ayusman/kinectcast/internal/display"
	"github.com/ayusman/kinectcast/internal/overlay"
	"github.com/ayusman/kinectcast/internal/projection"
	"github.com/ayusman/kinectcast/internal/skeleton"
	"github.com/ayusman/kinectcast/internal/tracker"
)

// ErrNoTracker is returned by New when no tracker is configured.
var ErrNoTracker = errors.New("pipeline requires a tracker")

// Frame is what a sink receives for each tracked user.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Skeleton  skeleton.Skeleton
	// Raw holds the projected pixel of every joint above the confidence gate.
	Raw overlay.Points
	// Points is Raw after smoothing. Without smoothing it is Raw itself.
	Points overlay.Points
	// Image is the frame being annotated. Sinks may draw on it but must
	// not retain it after Consume returns.
	Image *gocv.Mat
}

// Sink consumes tracked skeletons, one call per tracked user per frame.
type Sink interface {
	Name() string
	Consume(ctx context.Context, f *Frame) error
}

// FrameObserver receives the fully annotated image once per iteration.
// Observers must copy what they need; the image is released afterwards.
type FrameObserver interface {
	Observe(img *gocv.Mat)
}

// Config holds configuration options for the pipeline.
type Config struct {
	// Camera supplies color frames. Nil draws on a blank canvas.
	Camera capture.Camera
	// Tracker supplies user frames. Required.
	Tracker tracker.Tracker
	// Display shows the annotated frame. Nil runs headless.
	Display display.Display
	// Projector maps joints to pixels. The zero value uses the default viewport.
	Projector projection.Projector
	// Smoothing enables per-user, per-joint exponential smoothing with
	// SmoothingAlpha. It only affects Frame.Points.
	Smoothing      bool
	SmoothingAlpha float64
	Sinks          []Sink
	Observers      []FrameObserver
}

// Pipeline owns the per-process tracking state: the projector, the smoothing
// caches and the sinks that act on each frame.
type Pipeline struct {
	config    Config
	projector projection.Projector
	smoothers map[int]*projection.Smoother
	display   display.Display
	seq       atomic.Uint64
}

// New creates a Pipeline with the given configuration.
func New(config Config) (*Pipeline, error) {
	if config.Tracker == nil {
		return nil, ErrNoTracker
	}

	p := &Pipeline{
		config:    config,
		projector: config.Projector,
		display:   config.Display,
	}

	if p.projector.Width == 0 || p.projector.Height == 0 || p.projector.Scale == 0 {
		p.projector = projection.NewProjector()
	}
	if config.Smoothing {
		p.smoothers = make(map[int]*projection.Smoother)
	}
	if p.display == nil {
		p.display = display.Headless{}
	}

	return p, nil
}

// Run opens the camera and processes frames until ctx is cancelled, the
// display asks to quit, or the tracker runs out of frames. Camera and tracker
// failures end the loop with an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.config.Camera != nil {
		if err := p.config.Camera.Open(); err != nil {
			return fmt.Errorf("open camera: %w", err)
		}
	}

	slog.Info("pipeline started", "sinks", len(p.config.Sinks), "smoothing", p.config.Smoothing)

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopped", "frames", p.Frames())
			return nil
		default:
		}

		quit, err := p.Step(ctx)
		if errors.Is(err, tracker.ErrNoMoreFrames) {
			slog.Info("tracker exhausted", "frames", p.Frames())
			return nil
		}
		if err != nil {
			return err
		}
		if quit {
			slog.Info("display closed by user", "frames", p.Frames())
			return nil
		}
	}
}

// Step runs a single capture iteration.
func (p *Pipeline) Step(ctx context.Context) (quit bool, err error) {
	img, err := p.readImage()
	if err != nil {
		return false, err
	}
	defer img.Close()

	users, err := p.config.Tracker.ReadFrame()
	if err != nil {
		return false, fmt.Errorf("read user frame: %w", err)
	}

	seq := p.seq.Add(1)
	now := users.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	for _, u := range users.Users {
		if u.IsNew {
			if err := p.config.Tracker.StartSkeletonTracking(u.ID); err != nil {
				return false, fmt.Errorf("start skeleton tracking for user %d: %w", u.ID, err)
			}
			slog.Info("tracking new user", "user_id", u.ID)
			continue
		}
		if !u.Skeleton.Tracked() {
			continue
		}

		raw := p.project(&u.Skeleton)
		frame := &Frame{
			Seq:       seq,
			Timestamp: now,
			Skeleton:  u.Skeleton,
			Raw:       raw,
			Points:    p.smooth(u.ID, raw),
			Image:     img,
		}

		overlay.DrawSkeleton(img, frame.Points)
		p.dispatch(ctx, frame)
	}

	for _, o := range p.config.Observers {
		o.Observe(img)
	}

	return p.display.Show(img), nil
}

// Frames returns the number of iterations processed so far.
func (p *Pipeline) Frames() uint64 {
	return p.seq.Load()
}

// Projector returns the projector in use.
func (p *Pipeline) Projector() projection.Projector {
	return p.projector
}

// Close releases the camera, tracker, display and any sink that holds resources.
func (p *Pipeline) Close() error {
	var errs []error

	if p.config.Camera != nil {
		if err := p.config.Camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}
	if err := p.config.Tracker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tracker: %w", err))
	}
	if err := p.display.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close display: %w", err))
	}
	for _, s := range p.config.Sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
			}
		}
	}

	return errors.Join(errs...)
}

func (p *Pipeline) readImage() (*gocv.Mat, error) {
	if p.config.Camera == nil {
		return capture.BlankFrame(), nil
	}

	img, err := p.config.Camera.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read color frame: %w", err)
	}
	return img, nil
}

// project maps every confident joint to a pixel.
func (p *Pipeline) project(sk *skeleton.Skeleton) overlay.Points {
	pts := make(overlay.Points, skeleton.NumJoints)
	for i, j := range sk.Joints {
		if !j.Confident() {
			continue
		}
		pts[skeleton.JointID(i)] = p.projector.ToPixel(j.Position)
	}
	return pts
}

// smooth runs raw through the user's smoother, creating it on first sight.
// Each joint goes through the smoother at most once per frame.
func (p *Pipeline) smooth(userID int, raw overlay.Points) overlay.Points {
	if p.smoothers == nil {
		return raw
	}

	s, ok := p.smoothers[userID]
	if !ok {
		s = projection.NewSmoother(p.config.SmoothingAlpha)
		p.smoothers[userID] = s
	}

	pts := make(overlay.Points, len(raw))
	for id, px := range raw {
		pts[id] = s.Smooth(id, px)
	}
	return pts
}

func (p *Pipeline) dispatch(ctx context.Context, f *Frame) {
	for _, s := range p.config.Sinks {
		if err := s.Consume(ctx, f); err != nil {
			slog.Warn("sink failed", "sink", s.Name(), "seq", f.Seq, "user_id", f.Skeleton.UserID, "error", err)
		}
	}
}
