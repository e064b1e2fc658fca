package main

import (
	"context"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/kinectcast/internal/app"
	"github.com/ayusman/kinectcast/internal/capture"
	"github.com/ayusman/kinectcast/internal/config"
	"github.com/ayusman/kinectcast/internal/pipeline"
	"github.com/ayusman/kinectcast/internal/pointer"
	"github.com/ayusman/kinectcast/internal/store"
	"github.com/ayusman/kinectcast/internal/tray"
)

const statusInterval = 250 * time.Millisecond

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device := pointer.NewCommandDevice(pointer.CommandConfig{
		Move:     cfg.Pointer.MoveCommand,
		Down:     cfg.Pointer.DownCommand,
		Up:       cfg.Pointer.UpCommand,
		Geometry: cfg.Pointer.GeometryCommand,
		Timeout:  time.Duration(cfg.Pointer.TimeoutMS) * time.Millisecond,
	})

	screen := image.Point{X: cfg.Pointer.ScreenWidth, Y: cfg.Pointer.ScreenHeight}
	if screen.X == 0 {
		w, h, err := device.ScreenSize()
		if err != nil {
			fatal("failed to query screen size", err)
		}
		screen = image.Point{X: w, Y: h}
	}

	ptrCfg := pointer.DefaultConfig(capture.DefaultWidth, capture.DefaultHeight, screen)
	ptrCfg.ClickThreshold = cfg.Pointer.ClickThresholdMM
	ctrl := pointer.NewController(ptrCfg, device)

	slog.Info("pointer control configured",
		"screen", screen,
		"box", ptrCfg.Box,
		"click_threshold_mm", ptrCfg.ClickThreshold)

	// The store is only needed for recording or replay
	var st *store.Store
	if cfg.Record.Enabled || cfg.Tracker.ReplaySession != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Record.DBPath), 0755); err != nil {
			fatal("failed to create data directory", err)
		}
		var err error
		st, err = store.New(cfg.Record.DBPath)
		if err != nil {
			fatal("failed to initialize store", err)
		}
		defer st.Close()
	}

	a, err := app.New(app.Config{
		Settings: cfg,
		Store:    st,
		Sinks:    []pipeline.Sink{ctrl},
	})
	if err != nil {
		fatal("failed to build pipeline", err)
	}

	if cfg.Tray.Enabled {
		err = runWithTray(ctx, stop, a, ctrl)
	} else {
		err = a.Run(ctx)
	}
	if err != nil {
		fatal("tracking failed", err)
	}
}

// runWithTray gives the main goroutine to the tray and runs tracking in the background.
func runWithTray(ctx context.Context, stop context.CancelFunc, a *app.App, ctrl *pointer.Controller) error {
	t := tray.New()
	t.OnToggle(func(enabled bool) {
		ctrl.SetEnabled(enabled)
		slog.Info("pointer control toggled", "enabled", enabled)
	})
	ctrl.OnClickChange(t.SetClicking)
	t.OnQuit(stop)

	t.OnReady(func() {
		if err := a.Start(ctx); err != nil {
			slog.Error("failed to start tracking", "error", err)
			t.Quit()
			return
		}

		go func() {
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-a.Done():
					t.Quit()
					return
				case <-ctx.Done():
					t.Quit()
					return
				case <-ticker.C:
					t.SetDistance(ctrl.LastDistance())
				}
			}
		}()
	})

	t.Run()
	return a.Stop()
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
