package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Validate checks the configuration and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg.Listen == "" {
		cfg.Listen = ":8765"
	}

	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	switch cfg.Camera.Backend {
	case "", "any", "openni2":
	default:
		return fmt.Errorf("camera.backend must be any or openni2, got %q", cfg.Camera.Backend)
	}
	if cfg.Camera.Device < 0 {
		return fmt.Errorf("camera.device must be >= 0")
	}

	if cfg.Smoothing.Alpha <= 0 || cfg.Smoothing.Alpha > 1 {
		return fmt.Errorf("smoothing.alpha must be in (0, 1], got %v", cfg.Smoothing.Alpha)
	}

	if cfg.Broadcast.IntervalMS < 0 {
		return fmt.Errorf("broadcast.interval_ms must be >= 0")
	}
	if cfg.Broadcast.IntervalMS == 0 {
		cfg.Broadcast.IntervalMS = 30
	}

	if cfg.Pointer.ClickThresholdMM <= 0 {
		return fmt.Errorf("pointer.click_threshold_mm must be > 0")
	}
	if (cfg.Pointer.ScreenWidth == 0) != (cfg.Pointer.ScreenHeight == 0) {
		return fmt.Errorf("pointer.screen_width and pointer.screen_height must be set together")
	}
	if cfg.Pointer.ScreenWidth < 0 || cfg.Pointer.ScreenHeight < 0 {
		return fmt.Errorf("pointer screen size must be positive")
	}
	if cfg.Pointer.TimeoutMS <= 0 {
		cfg.Pointer.TimeoutMS = 2000
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "kinectcast/skeleton"
	}
	cfg.MQTT.Topic = strings.TrimSuffix(cfg.MQTT.Topic, "/")

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		cfg.DataDir = dir
	}
	if cfg.Record.DBPath == "" {
		cfg.Record.DBPath = filepath.Join(cfg.DataDir, "kinectcast.db")
	}

	return nil
}

// ParseLevel maps a log_level value to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}
