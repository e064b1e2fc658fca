// Package pointer turns hand positions into system pointer movement and clicks.
package pointer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCommandTimeout bounds a single pointer command.
const DefaultCommandTimeout = 2 * time.Second

// Device is the OS pointer API.
type Device interface {
	// Move sets the absolute cursor position in screen pixels.
	Move(x, y int) error
	// Press synthesizes a left button down event.
	Press() error
	// Release synthesizes a left button up event.
	Release() error
	// ScreenSize returns the screen resolution in pixels.
	ScreenSize() (width, height int, err error)
}

// CommandConfig lists the argv templates used by CommandDevice.
// The placeholders {x} and {y} in Move are replaced with coordinates.
type CommandConfig struct {
	Move     []string
	Down     []string
	Up       []string
	Geometry []string
	Timeout  time.Duration
}

// DefaultCommands drives the pointer with xdotool.
func DefaultCommands() CommandConfig {
	return CommandConfig{
		Move:     []string{"xdotool", "mousemove", "{x}", "{y}"},
		Down:     []string{"xdotool", "mousedown", "1"},
		Up:       []string{"xdotool", "mouseup", "1"},
		Geometry: []string{"xdotool", "getdisplaygeometry"},
		Timeout:  DefaultCommandTimeout,
	}
}

// CommandDevice implements Device by running external commands.
type CommandDevice struct {
	config CommandConfig
}

// NewCommandDevice creates a CommandDevice. Missing commands fall back to DefaultCommands.
func NewCommandDevice(config CommandConfig) *CommandDevice {
	def := DefaultCommands()
	if len(config.Move) == 0 {
		config.Move = def.Move
	}
	if len(config.Down) == 0 {
		config.Down = def.Down
	}
	if len(config.Up) == 0 {
		config.Up = def.Up
	}
	if len(config.Geometry) == 0 {
		config.Geometry = def.Geometry
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &CommandDevice{config: config}
}

func (d *CommandDevice) Move(x, y int) error {
	r := strings.NewReplacer("{x}", strconv.Itoa(x), "{y}", strconv.Itoa(y))
	args := make([]string, len(d.config.Move))
	for i, a := range d.config.Move {
		args[i] = r.Replace(a)
	}
	_, err := d.run(args)
	return err
}

func (d *CommandDevice) Press() error {
	_, err := d.run(d.config.Down)
	return err
}

func (d *CommandDevice) Release() error {
	_, err := d.run(d.config.Up)
	return err
}

// ScreenSize runs the geometry command and parses "<width> <height>" from its output.
func (d *CommandDevice) ScreenSize() (int, int, error) {
	out, err := d.run(d.config.Geometry)
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Fields(out)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("unexpected geometry output %q", out)
	}

	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse screen width: %w", err)
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse screen height: %w", err)
	}

	return w, h, nil
}

// run executes argv with the configured timeout and returns its stdout.
func (d *CommandDevice) run(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty pointer command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%s timed out after %v", argv[0], d.config.Timeout)
	}
	if err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("%s failed: %w, stderr: %s", argv[0], err, s)
		}
		return "", fmt.Errorf("%s failed: %w", argv[0], err)
	}

	return stdout.String(), nil
}

// Event kinds recorded by RecordingDevice.
const (
	EventMove    = "move"
	EventPress   = "press"
	EventRelease = "release"
)

// Event is one call made against a RecordingDevice.
type Event struct {
	Kind string
	X, Y int
}

// RecordingDevice is an in-memory Device for tests and dry runs.
type RecordingDevice struct {
	Width, Height int

	mu     sync.Mutex
	events []Event
}

// NewRecordingDevice creates a RecordingDevice with the given screen size.
func NewRecordingDevice(width, height int) *RecordingDevice {
	return &RecordingDevice{Width: width, Height: height}
}

func (d *RecordingDevice) Move(x, y int) error {
	d.record(Event{Kind: EventMove, X: x, Y: y})
	return nil
}

func (d *RecordingDevice) Press() error {
	d.record(Event{Kind: EventPress})
	return nil
}

func (d *RecordingDevice) Release() error {
	d.record(Event{Kind: EventRelease})
	return nil
}

func (d *RecordingDevice) ScreenSize() (int, int, error) {
	return d.Width, d.Height, nil
}

// Events returns a copy of the recorded calls.
func (d *RecordingDevice) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Count returns how many events of kind were recorded.
func (d *RecordingDevice) Count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (d *RecordingDevice) record(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}
