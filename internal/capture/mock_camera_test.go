package capture

import (
	"context"
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	// Create test frames
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)

	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	if w, h := cam.Dimensions(); w != 640 || h != 480 {
		t.Errorf("Dimensions() = %dx%d, want 640x480", w, h)
	}

	f1, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f1.Close()

	if w, h := cam.Dimensions(); w != 320 || h != 240 {
		t.Errorf("Dimensions() = %dx%d, want 320x240", w, h)
	}

	f2, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f2.Close()

	// Third read should fail (no loop)
	_, err = cam.ReadFrame()
	if err == nil {
		t.Error("expected error after all frames consumed")
	}
	if got := cam.Reads(); got != 2 {
		t.Errorf("Reads() = %d, want 2", got)
	}
}

func TestMockCamera_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open(context.Background())
	defer cam.Close()

	// Should loop indefinitely
	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_Readiness(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	if cam.Ready() {
		t.Error("Ready() should be false before Open")
	}
	if err := cam.WaitReady(context.Background()); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("WaitReady() before Open error = %v, want ErrCameraNotOpen", err)
	}

	cam.Open(context.Background())
	if !cam.Ready() {
		t.Error("Ready() should be true after Open")
	}

	cam.SetReady(false)
	if cam.Ready() {
		t.Error("Ready() should follow SetReady(false)")
	}
}

func TestMockCamera_OpenError(t *testing.T) {
	cam := NewMockCamera(nil, false)
	cam.SetOpenError(errors.New("permission denied"))

	err := cam.Open(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("Open() error = %v, want ErrCameraUnavailable", err)
	}
	if cam.IsOpen() {
		t.Error("camera should not be open after a failed Open")
	}
}
