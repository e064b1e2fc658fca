package tracker

import (
	"sync"
	"time"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// DefaultReplayInterval paces replayed frames at roughly 30 FPS.
const DefaultReplayInterval = 33 * time.Millisecond

// ReplayTracker plays back recorded skeletons as tracked users.
// It paces reads so playback runs at the recorded frame rate.
type ReplayTracker struct {
	skeletons []skeleton.Skeleton
	interval  time.Duration
	loop      bool

	mu       sync.Mutex
	index    int
	lastRead time.Time
}

// NewReplayTracker creates a ReplayTracker. An interval <= 0 uses DefaultReplayInterval.
func NewReplayTracker(skeletons []skeleton.Skeleton, interval time.Duration, loop bool) *ReplayTracker {
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	return &ReplayTracker{
		skeletons: skeletons,
		interval:  interval,
		loop:      loop,
	}
}

// ReadFrame waits for the next frame slot and returns the next skeleton.
func (r *ReplayTracker) ReadFrame() (*UserFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index >= len(r.skeletons) {
		if !r.loop || len(r.skeletons) == 0 {
			return nil, ErrNoMoreFrames
		}
		r.index = 0
	}

	if !r.lastRead.IsZero() {
		if wait := r.interval - time.Since(r.lastRead); wait > 0 {
			time.Sleep(wait)
		}
	}
	r.lastRead = time.Now()

	sk := r.skeletons[r.index]
	r.index++

	return TrackedFrame(sk), nil
}

// StartSkeletonTracking is a no-op; replayed users are always tracked.
func (r *ReplayTracker) StartSkeletonTracking(userID int) error {
	return nil
}

// Close is a no-op for the replay tracker.
func (r *ReplayTracker) Close() error {
	return nil
}

// Len returns the number of recorded frames.
func (r *ReplayTracker) Len() int {
	return len(r.skeletons)
}
