package e2e

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"

	"github.com/ayusman/kinectcast/internal/app"
	"github.com/ayusman/kinectcast/internal/broadcast"
	"github.com/ayusman/kinectcast/internal/config"
	"github.com/ayusman/kinectcast/internal/display"
	"github.com/ayusman/kinectcast/internal/pipeline"
	"github.com/ayusman/kinectcast/internal/pointer"
	"github.com/ayusman/kinectcast/internal/server"
	"github.com/ayusman/kinectcast/internal/skeleton"
	"github.com/ayusman/kinectcast/internal/store"
	"github.com/ayusman/kinectcast/internal/tracker"
)

func headless() *config.Config {
	cfg := config.Default()
	cfg.Camera.Enabled = false
	cfg.Display.Enabled = false
	return cfg
}

func TestE2E_StreamRecordReplay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	hub := broadcast.NewHub(broadcast.DefaultInterval)
	srv := server.New(server.Config{Store: s, Hub: hub})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	settings := headless()
	settings.Record.Enabled = true

	trk := tracker.NewMockTracker([]*tracker.UserFrame{
		tracker.NewUserFrame(1),
		tracker.TrackedFrame(tracker.StandingPose(1)),
	}, true)

	application, err := app.New(app.Config{
		Settings: settings,
		Store:    s,
		Tracker:  trk,
		Display:  display.Headless{},
		Sinks:    []pipeline.Sink{hub},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Run("ClientReceivesSkeleton", func(t *testing.T) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}

		var msg broadcast.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if msg.UserID != 1 {
			t.Errorf("user_id = %d, want 1", msg.UserID)
		}
		if len(msg.Joints) != skeleton.NumJoints {
			t.Errorf("joints = %d, want %d", len(msg.Joints), skeleton.NumJoints)
		}
		head := msg.Joints["head"]
		if head.X < 0 || head.X >= 640 || head.Y < 0 || head.Y >= 480 || head.Z != 2000 {
			t.Errorf("head = %+v", head)
		}
	})

	if err := application.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if started := trk.Started(); len(started) == 0 || started[0] != 1 {
		t.Errorf("skeleton tracking requests = %v, want user 1", started)
	}

	var sessionID string
	t.Run("SessionRecorded", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + "/api/sessions")
		if err != nil {
			t.Fatalf("GET /api/sessions error = %v", err)
		}
		defer resp.Body.Close()

		var list struct {
			Sessions []struct {
				ID      string `json:"id"`
				Frames  int    `json:"frames"`
				EndedAt string `json:"ended_at"`
			} `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if len(list.Sessions) != 1 {
			t.Fatalf("sessions = %d, want 1", len(list.Sessions))
		}
		if list.Sessions[0].Frames == 0 || list.Sessions[0].EndedAt == "" {
			t.Errorf("session = %+v", list.Sessions[0])
		}
		sessionID = list.Sessions[0].ID
	})

	t.Run("ReplayDrivesPointer", func(t *testing.T) {
		if sessionID == "" {
			t.Skip("no recorded session")
		}

		replay := headless()
		replay.Tracker.ReplaySession = sessionID

		dev := pointer.NewRecordingDevice(1920, 1080)
		ctrl := pointer.NewController(pointer.DefaultConfig(640, 480, image.Point{X: 1920, Y: 1080}), dev)

		player, err := app.New(app.Config{
			Settings: replay,
			Store:    s,
			Display:  display.Headless{},
			Sinks:    []pipeline.Sink{ctrl},
		})
		if err != nil {
			t.Fatalf("app.New() error = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		if err := player.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if dev.Count(pointer.EventMove) == 0 {
			t.Error("replayed skeletons should move the pointer")
		}
		if dev.Count(pointer.EventPress) != 0 {
			t.Error("arms-down pose should not click")
		}
	})
}

// reachPose returns a standing pose with the left hand dx millimeters from the left shoulder.
func reachPose(dx float64) skeleton.Skeleton {
	sk := tracker.StandingPose(1)
	sh := sk.Joints[skeleton.LeftShoulder].Position
	sk.Joints[skeleton.LeftHand].Position = r3.Vector{X: sh.X + dx, Y: sh.Y, Z: sh.Z}
	return sk
}

func TestE2E_PointerClickSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frames := []*tracker.UserFrame{
		tracker.TrackedFrame(reachPose(500)),
		tracker.TrackedFrame(reachPose(200)),
		tracker.TrackedFrame(reachPose(150)),
		tracker.TrackedFrame(reachPose(350)),
		tracker.TrackedFrame(reachPose(100)),
	}

	dev := pointer.NewRecordingDevice(1280, 720)
	ctrl := pointer.NewController(pointer.DefaultConfig(640, 480, image.Point{X: 1280, Y: 720}), dev)

	a, err := app.New(app.Config{
		Settings: headless(),
		Tracker:  tracker.NewMockTracker(frames, false),
		Sinks:    []pipeline.Sink{ctrl},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := dev.Count(pointer.EventMove); got != len(frames) {
		t.Errorf("moves = %d, want %d", got, len(frames))
	}
	if got := dev.Count(pointer.EventPress); got != 2 {
		t.Errorf("presses = %d, want 2", got)
	}
	// The last press is released when the pipeline closes the controller
	if got := dev.Count(pointer.EventRelease); got != 2 {
		t.Errorf("releases = %d, want 2", got)
	}
}

func TestE2E_HealthReportsClients(t *testing.T) {
	hub := broadcast.NewHub(0)
	ts := httptest.NewServer(server.New(server.Config{Hub: hub}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&health)
	if health["status"] != "ok" {
		t.Errorf("status = %v", health["status"])
	}
	if clients, ok := health["clients"].(float64); !ok || clients != 0 {
		t.Errorf("clients = %v, want 0", health["clients"])
	}
}
