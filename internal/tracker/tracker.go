// Package tracker provides access to the depth sensor's user and skeleton tracking.
package tracker

import (
	"errors"
	"time"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// ErrNoMoreFrames is returned by finite trackers once playback is exhausted.
var ErrNoMoreFrames = errors.New("no more frames")

// Tracker defines the interface for user tracking implementations.
type Tracker interface {
	// ReadFrame blocks until the next user-tracking frame is available.
	ReadFrame() (*UserFrame, error)

	// StartSkeletonTracking asks the tracker to begin skeleton tracking
	// for a newly detected user.
	StartSkeletonTracking(userID int) error

	// Close releases any resources held by the tracker.
	Close() error
}

// User is one user reported in a tracking frame.
type User struct {
	ID       int
	IsNew    bool
	Skeleton skeleton.Skeleton
}

// UserFrame holds every user seen by the tracker at one instant.
type UserFrame struct {
	Users     []User
	Timestamp time.Time
}

// Tracked returns the skeletons in the frame whose state is tracked.
// New users are never considered tracked.
func (f *UserFrame) Tracked() []skeleton.Skeleton {
	if f == nil {
		return nil
	}

	var out []skeleton.Skeleton
	for _, u := range f.Users {
		if u.IsNew || u.Skeleton.State != skeleton.StateTracked {
			continue
		}
		out = append(out, u.Skeleton)
	}
	return out
}
