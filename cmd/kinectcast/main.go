package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ayusman/kinectcast/internal/app"
	"github.com/ayusman/kinectcast/internal/broadcast"
	"github.com/ayusman/kinectcast/internal/config"
	"github.com/ayusman/kinectcast/internal/emitter"
	"github.com/ayusman/kinectcast/internal/pipeline"
	"github.com/ayusman/kinectcast/internal/server"
	"github.com/ayusman/kinectcast/internal/store"
)

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the store
	if err := os.MkdirAll(filepath.Dir(cfg.Record.DBPath), 0755); err != nil {
		fatal("failed to create data directory", err)
	}
	st, err := store.New(cfg.Record.DBPath)
	if err != nil {
		fatal("failed to initialize store", err)
	}
	defer st.Close()

	hub := broadcast.NewHub(cfg.Broadcast.Interval())
	preview := server.NewPreview(0)
	sinks := []pipeline.Sink{hub}

	if cfg.MQTT.Broker != "" {
		em := emitter.NewMQTTEmitter(cfg.MQTT)
		// paho keeps retrying in the background, so a slow broker is not fatal
		if err := em.Connect(ctx); err != nil {
			slog.Warn("mqtt broker not reachable yet", "broker", cfg.MQTT.Broker, "error", err)
		}
		sinks = append(sinks, em)
	}

	a, err := app.New(app.Config{
		Settings:  cfg,
		Store:     st,
		Sinks:     sinks,
		Observers: []pipeline.FrameObserver{preview},
	})
	if err != nil {
		fatal("failed to build pipeline", err)
	}

	webDir := findWebDir(cfg.DataDir)
	if webDir != "" {
		slog.Info("serving static files", "dir", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Hub:       hub,
		Preview:   preview,
	})

	srvDone := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe(ctx, cfg.Listen)
		if err != nil {
			slog.Error("http server failed", "error", err)
			stop()
		}
		srvDone <- err
	}()

	slog.Info("kinectcast started", "listen", cfg.Listen, "recording", a.RecordingSession())

	runErr := a.Run(ctx)
	stop()
	srvErr := <-srvDone

	if runErr != nil {
		fatal("tracking failed", runErr)
	}
	if srvErr != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	path, err := config.Path()
	if err != nil {
		fatal("failed to resolve config path", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal("failed to load config", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Debug("configuration loaded", "path", path)

	return cfg
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// findWebDir searches for a visualizer directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	candidates := []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
