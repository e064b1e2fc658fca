package tracker

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// MockTracker is a test implementation of the Tracker interface.
// It returns queued frames in order and records tracking requests.
type MockTracker struct {
	mu      sync.Mutex
	frames  []*UserFrame
	index   int
	loop    bool
	err     error
	started []int
	closed  bool
}

// NewMockTracker creates a MockTracker that plays frames once, or forever when loop is set.
func NewMockTracker(frames []*UserFrame, loop bool) *MockTracker {
	return &MockTracker{frames: frames, loop: loop}
}

// SetFrames replaces the frame sequence.
func (m *MockTracker) SetFrames(frames []*UserFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = frames
	m.index = 0
}

// SetError sets the error that will be returned by ReadFrame.
func (m *MockTracker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// ReadFrame returns the next queued frame.
func (m *MockTracker) ReadFrame() (*UserFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	if m.index >= len(m.frames) {
		if !m.loop || len(m.frames) == 0 {
			return nil, ErrNoMoreFrames
		}
		m.index = 0
	}

	f := m.frames[m.index]
	m.index++
	return f, nil
}

// StartSkeletonTracking records the request.
func (m *MockTracker) StartSkeletonTracking(userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, userID)
	return nil
}

// Started returns the user ids tracking was requested for.
func (m *MockTracker) Started() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.started...)
}

// Close marks the tracker closed.
func (m *MockTracker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockTracker) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// TrackedFrame wraps skeletons into a frame of tracked users.
func TrackedFrame(skeletons ...skeleton.Skeleton) *UserFrame {
	f := &UserFrame{Timestamp: time.Now()}
	for _, sk := range skeletons {
		sk.State = skeleton.StateTracked
		f.Users = append(f.Users, User{ID: sk.UserID, Skeleton: sk})
	}
	return f
}

// NewUserFrame returns a frame announcing a newly detected user.
func NewUserFrame(userID int) *UserFrame {
	return &UserFrame{
		Users:     []User{{ID: userID, IsNew: true, Skeleton: skeleton.New(userID)}},
		Timestamp: time.Now(),
	}
}

// StandingPose returns a fully confident skeleton of a person standing
// about 2m from the sensor with both arms down.
func StandingPose(userID int) skeleton.Skeleton {
	sk := skeleton.New(userID)
	sk.State = skeleton.StateTracked

	positions := [skeleton.NumJoints]r3.Vector{
		skeleton.Head:          {X: 0, Y: 450, Z: 2000},
		skeleton.Neck:          {X: 0, Y: 300, Z: 2000},
		skeleton.LeftShoulder:  {X: -180, Y: 280, Z: 2000},
		skeleton.RightShoulder: {X: 180, Y: 280, Z: 2000},
		skeleton.LeftElbow:     {X: -220, Y: 20, Z: 2000},
		skeleton.RightElbow:    {X: 220, Y: 20, Z: 2000},
		skeleton.LeftHand:      {X: -240, Y: -220, Z: 1980},
		skeleton.RightHand:     {X: 240, Y: -220, Z: 1980},
		skeleton.Torso:         {X: 0, Y: 50, Z: 2000},
		skeleton.LeftHip:       {X: -110, Y: -200, Z: 2000},
		skeleton.RightHip:      {X: 110, Y: -200, Z: 2000},
		skeleton.LeftKnee:      {X: -120, Y: -600, Z: 2010},
		skeleton.RightKnee:     {X: 120, Y: -600, Z: 2010},
		skeleton.LeftFoot:      {X: -130, Y: -980, Z: 2020},
		skeleton.RightFoot:     {X: 130, Y: -980, Z: 2020},
	}

	for i := range sk.Joints {
		sk.Joints[i].Position = positions[i]
		sk.Joints[i].Confidence = 1
	}

	return sk
}
