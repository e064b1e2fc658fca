package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/kinectcast/internal/config"
	"github.com/ayusman/kinectcast/internal/display"
	"github.com/ayusman/kinectcast/internal/pipeline"
	"github.com/ayusman/kinectcast/internal/store"
	"github.com/ayusman/kinectcast/internal/tracker"
)

type countingSink struct {
	mu    sync.Mutex
	users []int
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Consume(ctx context.Context, f *pipeline.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, f.Skeleton.UserID)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func headless() *config.Config {
	cfg := config.Default()
	cfg.Camera.Enabled = false
	cfg.Display.Enabled = false
	return cfg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewTracker(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		_, err := NewTracker(config.TrackerConfig{}, nil)
		if !errors.Is(err, ErrNoTrackerSource) {
			t.Errorf("error = %v, want ErrNoTrackerSource", err)
		}
	})

	t.Run("bridge", func(t *testing.T) {
		trk, err := NewTracker(config.TrackerConfig{BridgePath: "/usr/bin/kinect-bridge"}, nil)
		if err != nil {
			t.Fatalf("NewTracker() error = %v", err)
		}
		if _, ok := trk.(*tracker.BridgeTracker); !ok {
			t.Errorf("tracker = %T, want *tracker.BridgeTracker", trk)
		}
	})

	t.Run("replay without store", func(t *testing.T) {
		_, err := NewTracker(config.TrackerConfig{ReplaySession: "abc"}, nil)
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("error = %v, want ErrStoreRequired", err)
		}
	})

	t.Run("replay missing session", func(t *testing.T) {
		_, err := NewTracker(config.TrackerConfig{ReplaySession: "abc"}, newTestStore(t))
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, want store.ErrNotFound", err)
		}
	})
}

func TestApp_RunReplayAndRecord(t *testing.T) {
	st := newTestStore(t)

	// Seed a session to replay
	src := &store.Session{Name: "source"}
	st.Sessions().Create(src)
	for seq := uint64(1); seq <= 4; seq++ {
		sk := tracker.StandingPose(3)
		st.Frames().Append(src.ID, seq, &sk, time.Now())
	}

	settings := headless()
	settings.Tracker.ReplaySession = src.ID
	settings.Record.Enabled = true

	sink := &countingSink{}
	a, err := New(Config{
		Settings: settings,
		Store:    st,
		Sinks:    []pipeline.Sink{sink},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := sink.count(); got != 4 {
		t.Errorf("sink saw %d frames, want 4", got)
	}

	rec, err := st.Sessions().GetByID(a.RecordingSession())
	if err != nil {
		t.Fatalf("recorded session: %v", err)
	}
	if rec.Frames != 4 || rec.EndedAt == nil {
		t.Errorf("recorded session = %+v", rec)
	}
	if rec.Name != "replay of "+src.ID {
		t.Errorf("recorded session name = %q", rec.Name)
	}
}

func TestApp_StartStop(t *testing.T) {
	pose := tracker.StandingPose(1)
	trk := tracker.NewMockTracker([]*tracker.UserFrame{tracker.TrackedFrame(pose)}, true)
	sink := &countingSink{}

	a, err := New(Config{
		Settings: headless(),
		Tracker:  trk,
		Display:  display.Headless{},
		Sinks:    []pipeline.Sink{sink},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if a.Done() != nil {
		t.Error("Done() should be nil before Start")
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatal("no frames processed in background")
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if !trk.Closed() {
		t.Error("tracker should be closed after Stop")
	}

	select {
	case <-a.Done():
	default:
		t.Error("Done() should be closed after Stop")
	}
}

func TestApp_TrackerErrorEndsRun(t *testing.T) {
	trk := tracker.NewMockTracker(nil, false)
	trk.SetError(errors.New("sensor unplugged"))

	a, err := New(Config{Settings: headless(), Tracker: trk})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() should return the tracker error")
	}
}
