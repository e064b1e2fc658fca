package tracker

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"testing"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// TestHelperProcess is not a real test. It acts as a fake SDK bridge when
// the test binary is re-executed by bridgeForTest.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("KINECTCAST_WANT_BRIDGE_HELPER") != "1" {
		return
	}

	in := bufio.NewReader(os.Stdin)
	tracking := map[int]bool{}

	for {
		var req bridgeRequest
		if err := readMessage(in, &req); err != nil {
			os.Exit(0)
		}

		var resp bridgeResponse
		switch req.Op {
		case "track":
			tracking[req.UserID] = true
		case "read":
			user := wireUser{ID: 1, New: !tracking[1], State: 0}
			if tracking[1] {
				user.State = int(skeleton.StateTracked)
				for i := 0; i < skeleton.NumJoints; i++ {
					user.Joints = append(user.Joints, wireJoint{
						X:          float64(i * 10),
						Y:          float64(-i * 10),
						Z:          2000,
						Confidence: 0.9,
					})
				}
			}
			resp.Users = []wireUser{user}
		default:
			resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		}

		if err := writeMessage(os.Stdout, resp); err != nil {
			os.Exit(1)
		}
	}
}

func bridgeForTest(t *testing.T) *BridgeTracker {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	b, err := NewBridgeTracker(BridgeConfig{
		Path: os.Args[0],
		Args: []string{"-test.run=TestHelperProcess"},
		Env:  []string{"KINECTCAST_WANT_BRIDGE_HELPER=1"},
	})
	if err != nil {
		t.Fatalf("NewBridgeTracker() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridgeTracker_NewUserThenTracked(t *testing.T) {
	b := bridgeForTest(t)

	frame, err := b.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if len(frame.Users) != 1 || !frame.Users[0].IsNew {
		t.Fatalf("first frame users = %+v, want one new user", frame.Users)
	}
	if got := frame.Tracked(); len(got) != 0 {
		t.Errorf("Tracked() = %d skeletons before tracking started, want 0", len(got))
	}

	if err := b.StartSkeletonTracking(1); err != nil {
		t.Fatalf("StartSkeletonTracking() error = %v", err)
	}

	frame, err = b.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}

	tracked := frame.Tracked()
	if len(tracked) != 1 {
		t.Fatalf("Tracked() = %d skeletons, want 1", len(tracked))
	}

	sk := tracked[0]
	if sk.UserID != 1 {
		t.Errorf("UserID = %d, want 1", sk.UserID)
	}
	hand := sk.Joint(skeleton.RightHand)
	if hand.Position.X != 70 || hand.Position.Y != -70 || hand.Position.Z != 2000 {
		t.Errorf("right hand position = %v, want (70, -70, 2000)", hand.Position)
	}
	if hand.Confidence != 0.9 {
		t.Errorf("right hand confidence = %v, want 0.9", hand.Confidence)
	}
}

func TestBridgeTracker_Close(t *testing.T) {
	b := bridgeForTest(t)

	// Close before start is a no-op
	if err := b.Close(); err != nil {
		t.Fatalf("Close() before start error = %v", err)
	}

	if _, err := b.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// The bridge restarts lazily after Close
	if _, err := b.ReadFrame(); err != nil {
		t.Errorf("ReadFrame() after restart error = %v", err)
	}
}

func TestNewBridgeTracker_RequiresPath(t *testing.T) {
	_, err := NewBridgeTracker(BridgeConfig{})
	if !errors.Is(err, ErrBridgeNotConfigured) {
		t.Errorf("error = %v, want ErrBridgeNotConfigured", err)
	}
}

func TestBridgeTracker_MissingExecutable(t *testing.T) {
	b, err := NewBridgeTracker(BridgeConfig{Path: "/nonexistent/kinect-bridge"})
	if err != nil {
		t.Fatalf("NewBridgeTracker() error = %v", err)
	}

	if _, err := b.ReadFrame(); err == nil {
		t.Error("ReadFrame() should fail when the bridge cannot start")
	}
}

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer

	in := bridgeRequest{Op: "track", UserID: 42}
	if err := writeMessage(&buf, in); err != nil {
		t.Fatalf("writeMessage() error = %v", err)
	}

	var out bridgeRequest
	if err := readMessage(&buf, &out); err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if out != in {
		t.Errorf("readMessage() = %+v, want %+v", out, in)
	}

	t.Run("rejects oversized message", func(t *testing.T) {
		oversized := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
		if err := readMessage(oversized, &out); err == nil {
			t.Error("expected error for oversized length prefix")
		}
	})
}
