package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinectcast/internal/capture"
	"github.com/ayusman/kinectcast/internal/skeleton"
	"github.com/ayusman/kinectcast/internal/tracker"
)

// recordingSink remembers every frame it was handed.
type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	err    error
	closed bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Consume(ctx context.Context, f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *f
	copied.Image = nil
	s.frames = append(s.frames, copied)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

type countingObserver struct {
	count int
}

func (o *countingObserver) Observe(img *gocv.Mat) { o.count++ }

// quitAfter is a display that asks to quit after n frames.
type quitAfter struct {
	n, shown int
	closed   bool
}

func (d *quitAfter) Show(*gocv.Mat) bool {
	d.shown++
	return d.shown >= d.n
}

func (d *quitAfter) Close() error {
	d.closed = true
	return nil
}

func TestNew_RequiresTracker(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoTracker) {
		t.Errorf("New() error = %v, want ErrNoTracker", err)
	}
}

func TestNew_DefaultProjector(t *testing.T) {
	p, err := New(Config{Tracker: tracker.NewMockTracker(nil, false)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	proj := p.Projector()
	if proj.Width != 640 || proj.Height != 480 || proj.Scale != 0.9 {
		t.Errorf("Projector() = %+v, want 640x480 scale 0.9", proj)
	}
}

func TestPipeline_StartsTrackingNewUsers(t *testing.T) {
	mock := tracker.NewMockTracker([]*tracker.UserFrame{tracker.NewUserFrame(3)}, false)
	sink := &recordingSink{}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{sink}})

	if _, err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if got := mock.Started(); len(got) != 1 || got[0] != 3 {
		t.Errorf("Started() = %v, want [3]", got)
	}
	if len(sink.Frames()) != 0 {
		t.Error("new users should not reach sinks")
	}
}

func TestPipeline_DispatchesTrackedSkeletons(t *testing.T) {
	pose := tracker.StandingPose(1)
	pose.Joints[skeleton.LeftFoot].Confidence = 0.5

	mock := tracker.NewMockTracker([]*tracker.UserFrame{tracker.TrackedFrame(pose)}, false)
	sink := &recordingSink{}
	observer := &countingObserver{}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{sink}, Observers: []FrameObserver{observer}})

	if _, err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	frames := sink.Frames()
	if len(frames) != 1 {
		t.Fatalf("sink received %d frames, want 1", len(frames))
	}

	f := frames[0]
	if f.Seq != 1 {
		t.Errorf("Seq = %d, want 1", f.Seq)
	}
	if len(f.Points) != skeleton.NumJoints-1 {
		t.Errorf("len(Points) = %d, want %d", len(f.Points), skeleton.NumJoints-1)
	}
	if _, ok := f.Points[skeleton.LeftFoot]; ok {
		t.Error("joint at confidence 0.5 should be excluded")
	}
	if got := f.Points[skeleton.Head]; got != (image.Point{X: 320, Y: 37}) {
		t.Errorf("head pixel = %v, want (320, 37)", got)
	}
	if observer.count != 1 {
		t.Errorf("observer called %d times, want 1", observer.count)
	}
}

func TestPipeline_SmoothingAppliedOncePerFrame(t *testing.T) {
	near := tracker.StandingPose(1)
	far := tracker.StandingPose(1)
	far.Joints[skeleton.RightHand].Position.X += 200 // +90px

	mock := tracker.NewMockTracker([]*tracker.UserFrame{
		tracker.TrackedFrame(near),
		tracker.TrackedFrame(far),
	}, false)
	sink := &recordingSink{}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{sink}, Smoothing: true, SmoothingAlpha: 0.2})

	for i := 0; i < 2; i++ {
		if _, err := p.Step(context.Background()); err != nil {
			t.Fatalf("Step() %d error = %v", i, err)
		}
	}

	frames := sink.Frames()
	first := frames[0].Points[skeleton.RightHand]
	second := frames[1].Points[skeleton.RightHand]

	// 20% of the 90px jump
	if second.X-first.X != 18 {
		t.Errorf("smoothed step = %d px, want 18", second.X-first.X)
	}

	raw := frames[1].Raw[skeleton.RightHand]
	if want := p.Projector().ToPixel(far.Joints[skeleton.RightHand].Position); raw != want {
		t.Errorf("Raw = %v, want unsmoothed %v", raw, want)
	}
}

func TestPipeline_SmoothingIsPerUser(t *testing.T) {
	left := tracker.StandingPose(1)
	right := tracker.StandingPose(2)
	right.Joints[skeleton.Head].Position.X = -300

	mock := tracker.NewMockTracker([]*tracker.UserFrame{
		tracker.TrackedFrame(left),
		tracker.TrackedFrame(right),
	}, false)
	sink := &recordingSink{}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{sink}, Smoothing: true, SmoothingAlpha: 0.2})

	for i := 0; i < 2; i++ {
		if _, err := p.Step(context.Background()); err != nil {
			t.Fatalf("Step() %d error = %v", i, err)
		}
	}

	// A user's first observation passes through even after another user was seen
	f := sink.Frames()[1]
	want := p.Projector().ToPixel(right.Joints[skeleton.Head].Position)
	if got := f.Points[skeleton.Head]; got != want {
		t.Errorf("user 2 head = %v, want %v", got, want)
	}
}

func TestPipeline_WithoutSmoothingPointsAreRaw(t *testing.T) {
	mock := tracker.NewMockTracker([]*tracker.UserFrame{tracker.TrackedFrame(tracker.StandingPose(1))}, false)
	sink := &recordingSink{}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{sink}})
	if _, err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	f := sink.Frames()[0]
	if len(f.Raw) != len(f.Points) || f.Raw[skeleton.Head] != f.Points[skeleton.Head] {
		t.Errorf("Points = %v, want Raw %v", f.Points, f.Raw)
	}
}

func TestPipeline_SinkErrorDoesNotStopLoop(t *testing.T) {
	frames := []*tracker.UserFrame{
		tracker.TrackedFrame(tracker.StandingPose(1)),
		tracker.TrackedFrame(tracker.StandingPose(1)),
	}
	mock := tracker.NewMockTracker(frames, false)
	failing := &recordingSink{err: errors.New("socket gone")}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{failing}})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(failing.Frames()) != 2 {
		t.Errorf("sink received %d frames, want 2", len(failing.Frames()))
	}
}

func TestPipeline_Run_TrackerErrorIsFatal(t *testing.T) {
	mock := tracker.NewMockTracker(nil, true)
	mock.SetError(errors.New("device unplugged"))

	p, _ := New(Config{Tracker: mock})

	if err := p.Run(context.Background()); err == nil {
		t.Error("Run() should return the tracker error")
	}
}

func TestPipeline_Run_CameraErrorIsFatal(t *testing.T) {
	mock := tracker.NewMockTracker([]*tracker.UserFrame{tracker.TrackedFrame(tracker.StandingPose(1))}, true)
	cam := capture.NewMockCamera(nil, false)

	p, _ := New(Config{Tracker: mock, Camera: cam})

	if err := p.Run(context.Background()); err == nil {
		t.Error("Run() should return the camera error")
	}
}

func TestPipeline_Run_StopsOnDisplayQuit(t *testing.T) {
	mock := tracker.NewMockTracker([]*tracker.UserFrame{tracker.TrackedFrame(tracker.StandingPose(1))}, true)
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{&frame}, true)
	disp := &quitAfter{n: 3}

	p, _ := New(Config{Tracker: mock, Camera: cam, Display: disp})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if p.Frames() != 3 {
		t.Errorf("Frames() = %d, want 3", p.Frames())
	}
	if cam.Reads() != 3 {
		t.Errorf("camera reads = %d, want 3", cam.Reads())
	}
}

func TestPipeline_Run_StopsOnContextCancel(t *testing.T) {
	mock := tracker.NewMockTracker([]*tracker.UserFrame{tracker.TrackedFrame(tracker.StandingPose(1))}, true)
	p, _ := New(Config{Tracker: mock})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}
}

func TestPipeline_Close(t *testing.T) {
	mock := tracker.NewMockTracker(nil, false)
	sink := &recordingSink{}
	disp := &quitAfter{n: 1}

	p, _ := New(Config{Tracker: mock, Sinks: []Sink{sink}, Display: disp})

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !mock.Closed() || !sink.closed || !disp.closed {
		t.Errorf("Close() did not release everything: tracker=%v sink=%v display=%v",
			mock.Closed(), sink.closed, disp.closed)
	}
}
