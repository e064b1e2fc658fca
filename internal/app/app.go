// Package app wires configuration, devices and sinks into a running pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ayusman/kinectcast/internal/capture"
	"github.com/ayusman/kinectcast/internal/config"
	"github.com/ayusman/kinectcast/internal/display"
	"github.com/ayusman/kinectcast/internal/pipeline"
	"github.com/ayusman/kinectcast/internal/store"
	"github.com/ayusman/kinectcast/internal/tracker"
)

// ErrNoTrackerSource is returned when neither a bridge nor a replay session is configured.
var ErrNoTrackerSource = errors.New("no skeleton source: set tracker.bridge_path or tracker.replay_session")

// ErrStoreRequired is returned when replay is requested without a store.
var ErrStoreRequired = errors.New("replaying a session requires the recording store")

// Config holds configuration options for the application.
type Config struct {
	Settings *config.Config
	// Store backs recording and replay. Optional.
	Store     *store.Store
	Sinks     []pipeline.Sink
	Observers []pipeline.FrameObserver

	// Camera, Tracker and Display override the devices built from Settings.
	Camera  capture.Camera
	Tracker tracker.Tracker
	Display display.Display
}

// App owns one pipeline and runs it in the foreground or in the background.
type App struct {
	pipeline *pipeline.Pipeline
	recorder *store.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New builds the devices and sinks described by config.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	s := cfg.Settings

	trk := cfg.Tracker
	if trk == nil {
		var err error
		trk, err = NewTracker(s.Tracker, cfg.Store)
		if err != nil {
			return nil, err
		}
	}

	cam := cfg.Camera
	if cam == nil && s.Camera.Enabled {
		cam = capture.NewCamera(s.Camera.Device, capture.Backend(s.Camera.Backend))
	}

	disp := cfg.Display
	if disp == nil {
		if s.Display.Enabled {
			disp = display.NewWindow(s.Display.Title)
		} else {
			disp = display.Headless{}
		}
	}

	a := &App{}
	sinks := cfg.Sinks

	if s.Record.Enabled && cfg.Store != nil {
		name := "live"
		if s.Tracker.ReplaySession != "" {
			name = "replay of " + s.Tracker.ReplaySession
		}
		rec, err := store.NewRecorder(cfg.Store, name)
		if err != nil {
			trk.Close()
			return nil, err
		}
		a.recorder = rec
		sinks = append(sinks, rec)
	}

	p, err := pipeline.New(pipeline.Config{
		Camera:         cam,
		Tracker:        trk,
		Display:        disp,
		Smoothing:      s.Smoothing.Enabled,
		SmoothingAlpha: s.Smoothing.Alpha,
		Sinks:          sinks,
		Observers:      cfg.Observers,
	})
	if err != nil {
		trk.Close()
		return nil, err
	}
	a.pipeline = p

	return a, nil
}

// NewTracker returns the skeleton source selected by cfg: a recorded
// session when ReplaySession is set, otherwise the SDK bridge.
func NewTracker(cfg config.TrackerConfig, st *store.Store) (tracker.Tracker, error) {
	if cfg.ReplaySession != "" {
		if st == nil {
			return nil, ErrStoreRequired
		}
		if _, err := st.Sessions().GetByID(cfg.ReplaySession); err != nil {
			return nil, fmt.Errorf("replay session %s: %w", cfg.ReplaySession, err)
		}
		skeletons, err := st.Frames().Skeletons(cfg.ReplaySession)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", cfg.ReplaySession, err)
		}
		slog.Info("replaying recorded session", "session_id", cfg.ReplaySession, "frames", len(skeletons), "loop", cfg.ReplayLoop)
		return tracker.NewReplayTracker(skeletons, tracker.DefaultReplayInterval, cfg.ReplayLoop), nil
	}

	if cfg.BridgePath == "" {
		return nil, ErrNoTrackerSource
	}
	return tracker.NewBridgeTracker(tracker.BridgeConfig{
		Path: cfg.BridgePath,
		Args: cfg.BridgeArgs,
	})
}

// Pipeline returns the underlying pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// RecordingSession returns the ID of the session being recorded, or "".
func (a *App) RecordingSession() string {
	if a.recorder == nil {
		return ""
	}
	return a.recorder.SessionID()
}

// Run processes frames in the calling goroutine until ctx is cancelled or the
// pipeline ends, then releases every device and sink.
func (a *App) Run(ctx context.Context) error {
	runErr := a.pipeline.Run(ctx)
	closeErr := a.pipeline.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Start runs the pipeline in a background goroutine.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Don't start if already running
	if a.done != nil {
		return nil
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		err := a.Run(ctx)
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(a.done)
	}()

	slog.Info("tracking pipeline started in background")
	return nil
}

// Done is closed when a background run has finished. It is nil before Start.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Stop halts a background run and returns its error.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}

	cancel()
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	slog.Info("tracking pipeline stopped")
	return a.err
}
