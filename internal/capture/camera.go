// Package capture provides color frame capture from the depth sensor using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Backend selects the OpenCV capture backend.
type Backend string

const (
	// BackendAny lets OpenCV pick a backend (UVC webcams, Kinect via libfreenect/v4l2).
	BackendAny Backend = "any"
	// BackendOpenNI2 reads through OpenNI2. A plain read yields the depth
	// map, which ReadFrame renders as a gray BGR image.
	BackendOpenNI2 Backend = "openni2"
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera defines the interface for color capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// cameraImpl manages color capture from a device using GoCV.
type cameraImpl struct {
	deviceID int
	backend  Backend
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
}

// NewCamera creates a new Camera for the given device and backend.
// An empty backend means BackendAny.
func NewCamera(deviceID int, backend Backend) Camera {
	if backend == "" {
		backend = BackendAny
	}
	return &cameraImpl{
		deviceID: deviceID,
		backend:  backend,
	}
}

// Open opens the device at 640x480, matching the skeleton viewport.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	switch c.backend {
	case BackendOpenNI2:
		capture, err = gocv.OpenVideoCaptureWithAPI(c.deviceID, gocv.VideoCaptureOpenNI2)
	case BackendAny:
		capture, err = gocv.OpenVideoCapture(c.deviceID)
	default:
		return fmt.Errorf("unknown capture backend %q", c.backend)
	}
	if err != nil {
		return fmt.Errorf("open camera %d (%s): %w", c.deviceID, c.backend, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	capture.Set(gocv.VideoCaptureFPS, DefaultFPS)

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera and returns it as 8-bit BGR.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return toBGR(&mat)
}

// depthScale maps millimeters onto 8 bits with 8 m at full white.
const depthScale = 255.0 / 8000.0

// toBGR returns src as an 8-bit 3-channel image. OpenNI2 delivers the depth
// map (16UC1) from a plain read; it is scaled to gray and expanded so the
// overlay and the JPEG preview always see BGR. src is consumed.
func toBGR(src *gocv.Mat) (*gocv.Mat, error) {
	if src.Type() == gocv.MatTypeCV8UC3 {
		return src, nil
	}
	defer src.Close()

	gray := src
	if src.Type() == gocv.MatTypeCV16UC1 {
		scaled := gocv.NewMat()
		defer scaled.Close()
		gocv.ConvertScaleAbs(*src, &scaled, depthScale, 0)
		gray = &scaled
	}
	if gray.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("unsupported frame type %v", src.Type())
	}

	bgr := gocv.NewMat()
	gocv.CvtColor(*gray, &bgr, gocv.ColorGrayToBGR)
	return &bgr, nil
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// BlankFrame returns a black BGR canvas of the default size.
// It stands in for the color frame when no camera is configured.
func BlankFrame() *gocv.Mat {
	mat := gocv.NewMatWithSize(DefaultHeight, DefaultWidth, gocv.MatTypeCV8UC3)
	return &mat
}
