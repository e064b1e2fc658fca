// Package display shows annotated frames in a desktop window.
package display

import (
	"sync"

	"gocv.io/x/gocv"
)

// KeyEscape is the key code that closes the window.
const KeyEscape = 27

// Display presents frames to the user.
type Display interface {
	// Show presents img and reports whether the user asked to quit.
	Show(img *gocv.Mat) (quit bool)
	Close() error
}

// Window is a Display backed by an OpenCV highgui window.
type Window struct {
	title  string
	window *gocv.Window
	mu     sync.Mutex
}

// NewWindow creates a Window with the given title.
// The native window is created on the first Show call, which must happen
// on the goroutine that owns the UI thread.
func NewWindow(title string) *Window {
	return &Window{title: title}
}

// Show displays img and polls the keyboard for one millisecond.
func (w *Window) Show(img *gocv.Mat) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if img == nil || img.Empty() {
		return false
	}

	if w.window == nil {
		w.window = gocv.NewWindow(w.title)
	}

	w.window.IMShow(*img)
	return w.window.WaitKey(1)&0xFF == KeyEscape
}

// Close destroys the native window.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == nil {
		return nil
	}

	err := w.window.Close()
	w.window = nil
	return err
}

// Headless is a Display that discards frames. It never asks to quit.
type Headless struct{}

func (Headless) Show(*gocv.Mat) bool { return false }
func (Headless) Close() error        { return nil }
