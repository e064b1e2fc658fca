// Package config loads the YAML configuration shared by kinectcast and kinectmouse.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config file path.
const EnvPath = "KINECTCAST_CONFIG"

// Config represents the complete configuration
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
	DataDir   string          `yaml:"data_dir"`
	Camera    CameraConfig    `yaml:"camera"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Display   DisplayConfig   `yaml:"display"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Pointer   PointerConfig   `yaml:"pointer"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Record    RecordConfig    `yaml:"record"`
	Tray      TrayConfig      `yaml:"tray"`
}

// CameraConfig contains color camera settings
type CameraConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  int    `yaml:"device"`
	Backend string `yaml:"backend"` // any, openni2
}

// TrackerConfig selects the skeleton source
type TrackerConfig struct {
	BridgePath string   `yaml:"bridge_path"`
	BridgeArgs []string `yaml:"bridge_args"`
	// ReplaySession plays a recorded session instead of the live sensor.
	ReplaySession string `yaml:"replay_session"`
	ReplayLoop    bool   `yaml:"replay_loop"`
}

// DisplayConfig contains preview window settings
type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
}

// SmoothingConfig contains per-joint exponential smoothing settings
type SmoothingConfig struct {
	Enabled bool    `yaml:"enabled"`
	Alpha   float64 `yaml:"alpha"`
}

// BroadcastConfig contains WebSocket pacing settings
type BroadcastConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// Interval returns the send interval as a duration.
func (b BroadcastConfig) Interval() time.Duration {
	return time.Duration(b.IntervalMS) * time.Millisecond
}

// PointerConfig contains pointer-control settings
type PointerConfig struct {
	ClickThresholdMM float64  `yaml:"click_threshold_mm"`
	ScreenWidth      int      `yaml:"screen_width"` // 0 queries the geometry command
	ScreenHeight     int      `yaml:"screen_height"`
	MoveCommand      []string `yaml:"move_command"`
	DownCommand      []string `yaml:"down_command"`
	UpCommand        []string `yaml:"up_command"`
	GeometryCommand  []string `yaml:"geometry_command"`
	TimeoutMS        int      `yaml:"timeout_ms"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the emitter.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

// RecordConfig contains session recording settings
type RecordConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// TrayConfig contains system tray settings
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:   ":8765",
		LogLevel: "info",
		Camera: CameraConfig{
			Enabled: true,
			Backend: "any",
		},
		Display: DisplayConfig{
			Enabled: true,
			Title:   "Kinect Skeleton",
		},
		Smoothing: SmoothingConfig{
			Enabled: true,
			Alpha:   0.2,
		},
		Broadcast: BroadcastConfig{IntervalMS: 30},
		Pointer: PointerConfig{
			ClickThresholdMM: 350,
			TimeoutMS:        2000,
		},
		MQTT: MQTTConfig{
			Topic:    "kinectcast/skeleton",
			ClientID: "kinectcast",
		},
	}
}

// Path returns the config file location: $KINECTCAST_CONFIG if set,
// otherwise ~/.kinectcast/config.yaml.
func Path() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultDataDir returns ~/.kinectcast.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".kinectcast"), nil
}

// Load reads and parses a YAML configuration file on top of Default.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
