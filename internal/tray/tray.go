// Package tray provides a system tray menu for the pointer-control application.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool)
	onReady  func()
	onQuit   func()
	enabled  bool
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuClick    *systray.MenuItem
	menuDistance *systray.MenuItem
}

// New creates a new Tray instance with pointer control enabled.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback function to be called when pointer control is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnReady sets the callback run once the menu exists. Long-running work
// such as the tracking loop is started from here.
func (t *Tray) OnReady(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReady = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.ready, t.exit)
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) ready() {
	systray.SetTitle("KinectMouse")
	systray.SetTooltip("Kinect pointer control")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle pointer control")
	systray.AddSeparator()

	t.menuClick = systray.AddMenuItem(clickTitle(false), "Left button state")
	t.menuClick.Disable()
	t.menuDistance = systray.AddMenuItem(distanceTitle(0), "Hand to shoulder distance")
	t.menuDistance.Disable()
	callback := t.onReady
	t.mu.Unlock()

	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit KinectMouse")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()

	if callback != nil {
		callback()
	}
}

func (t *Tray) exit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetClicking updates the button status line.
func (t *Tray) SetClicking(clicking bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuClick != nil {
		t.menuClick.SetTitle(clickTitle(clicking))
	}
}

// SetDistance updates the distance status line.
func (t *Tray) SetDistance(mm float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuDistance != nil {
		t.menuDistance.SetTitle(distanceTitle(mm))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Pointer control on"
	}
	return "○ Pointer control off"
}

func clickTitle(clicking bool) string {
	if clicking {
		return "Button: down"
	}
	return "Button: up"
}

func distanceTitle(mm float64) string {
	if mm <= 0 {
		return "Distance: -"
	}
	return fmt.Sprintf("Distance: %.0f mm", mm)
}
