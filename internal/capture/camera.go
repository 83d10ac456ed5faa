// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrCameraUnavailable is returned when the camera device cannot be acquired.
	ErrCameraUnavailable = errors.New("camera is unavailable")
	// ErrNotReady is returned by ReadFrame before the first frame has arrived.
	ErrNotReady = errors.New("camera has no frame yet")
)

// Camera is a live video surface backed by a capture device.
type Camera interface {
	// Open acquires the device and starts playback.
	Open(ctx context.Context) error
	// WaitReady blocks until a frame with known dimensions is available.
	WaitReady(ctx context.Context) error
	// Ready reports whether both frame metadata and frame data are available.
	Ready() bool
	// ReadFrame returns a copy of the current frame. The caller must close it.
	ReadFrame() (*gocv.Mat, error)
	// Dimensions returns the native width and height of the stream.
	Dimensions() (width, height int)
	Close() error
	IsOpen() bool
}

// grabRetryDelay is how long the grabber waits after a failed read.
const grabRetryDelay = 10 * time.Millisecond

// maxGrabFailures is the number of consecutive failed reads after which the
// stream is considered lost.
const maxGrabFailures = 100

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int

	mu      sync.Mutex
	capture *gocv.VideoCapture
	latest  *gocv.Mat
	width   int
	height  int
	running bool
	ready   chan struct{}
	stop    chan struct{}
	done    chan struct{}
	err     error
}

// NewCamera creates a new Camera for the given device ID.
func NewCamera(deviceID int) Camera {
	return &cameraImpl{deviceID: deviceID}
}

// Open opens the device with its default resolution and frame rate and starts
// the grabber goroutine.
func (c *cameraImpl) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrCameraUnavailable, c.deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: device %d could not be opened", ErrCameraUnavailable, c.deviceID)
	}

	latest := gocv.NewMat()
	c.latest = &latest
	c.capture = capture
	c.running = true
	c.err = nil
	c.width, c.height = 0, 0
	c.ready = make(chan struct{})
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.grab(capture, c.stop, c.done)

	return nil
}

// grab reads frames into the latest frame slot until stopped.
func (c *cameraImpl) grab(capture *gocv.VideoCapture, stop, done chan struct{}) {
	defer close(done)

	mat := gocv.NewMat()
	defer mat.Close()

	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := capture.Read(&mat); !ok || mat.Empty() {
			failures++
			if failures >= maxGrabFailures {
				c.mu.Lock()
				c.err = errors.New("camera stream lost")
				c.mu.Unlock()
				return
			}
			time.Sleep(grabRetryDelay)
			continue
		}
		failures = 0

		c.mu.Lock()
		mat.CopyTo(c.latest)
		c.width, c.height = mat.Cols(), mat.Rows()
		select {
		case <-c.ready:
		default:
			close(c.ready)
		}
		c.mu.Unlock()
	}
}

// WaitReady blocks until the first frame has been decoded.
func (c *cameraImpl) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrCameraNotOpen
	}
	ready, done := c.ready, c.done
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return c.err
		}
		return ErrCameraNotOpen
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether a frame is available.
func (c *cameraImpl) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.err == nil && c.width > 0 && c.height > 0
}

// ReadFrame returns a clone of the latest frame.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.latest == nil || c.latest.Empty() {
		return nil, ErrNotReady
	}

	mat := c.latest.Clone()
	return &mat, nil
}

// Dimensions returns the native size of the last decoded frame.
func (c *cameraImpl) Dimensions() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Close stops the grabber and releases the device and the frame slot.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	if !c.running || c.capture == nil {
		c.running = false
		c.releaseLatest()
		c.mu.Unlock()
		return nil
	}
	stop, done := c.stop, c.done
	c.running = false
	c.mu.Unlock()

	close(stop)
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.capture.Close()
	c.capture = nil
	c.width, c.height = 0, 0
	c.releaseLatest()
	return err
}

// releaseLatest frees the frame slot. c.mu must be held.
func (c *cameraImpl) releaseLatest() {
	if c.latest != nil {
		c.latest.Close()
		c.latest = nil
	}
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
