package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCamera(t *testing.T) {
	tests := []struct {
		name     string
		deviceID int
	}{
		{name: "default device", deviceID: 0},
		{name: "device 1", deviceID: 1},
		{name: "device 2", deviceID: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(tt.deviceID)

			if cam == nil {
				t.Fatal("NewCamera returned nil")
			}

			// Camera should not be running initially
			if cam.IsOpen() {
				t.Error("camera should not be running initially")
			}
			if cam.Ready() {
				t.Error("camera should not be ready initially")
			}
			if w, h := cam.Dimensions(); w != 0 || h != 0 {
				t.Errorf("Dimensions() = %dx%d, want 0x0 before Open", w, h)
			}
		})
	}
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(0)

	// Test Open
	err := cam.Open(context.Background())
	if err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}

	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cam.WaitReady(ctx); err != nil {
		cam.Close()
		t.Skipf("skipping test - camera produced no frame: %v", err)
	}

	w, h := cam.Dimensions()
	if w <= 0 || h <= 0 {
		t.Errorf("Dimensions() = %dx%d after WaitReady", w, h)
	}

	// Test ReadFrame
	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		} else if mat.Cols() != w || mat.Rows() != h {
			t.Errorf("frame is %dx%d, Dimensions() reported %dx%d", mat.Cols(), mat.Rows(), w, h)
		}
		mat.Close()
	}

	// Test Close
	err = cam.Close()
	if err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
	if cam.(*cameraImpl).latest != nil {
		t.Error("Close() should release the frame slot")
	}
}

func TestCamera_ReadFrame_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	_, err := cam.ReadFrame()
	if !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_WaitReady_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	if err := cam.WaitReady(context.Background()); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("WaitReady() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_Open_CancelledContext(t *testing.T) {
	cam := NewCamera(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cam.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() error = %v, want context.Canceled", err)
	}
	if cam.IsOpen() {
		t.Error("camera should not open with a cancelled context")
	}
}

func TestCamera_Close_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	// Close on not opened camera should not panic and return nil
	err := cam.Close()
	if err != nil {
		t.Errorf("Close() on not opened camera should return nil, got: %v", err)
	}
	if cam.(*cameraImpl).latest != nil {
		t.Error("a camera that never opened should hold no frame slot")
	}
}

func TestCamera_Close_FailedOpenHoldsNoFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that probes capture devices")
	}

	cam := NewCamera(99)
	if err := cam.Open(context.Background()); err == nil {
		cam.Close()
		t.Skip("device 99 unexpectedly present")
	}
	if cam.(*cameraImpl).latest != nil {
		t.Error("a failed Open should not allocate the frame slot")
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() after failed Open error = %v", err)
	}
}
