package server

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/humanoverlay/internal/capture"
	"github.com/ayusman/humanoverlay/internal/engine"
	"github.com/ayusman/humanoverlay/internal/overlay"
)

func newTestCamera(t *testing.T) *capture.MockCamera {
	t.Helper()
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), 48, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	cam := capture.NewMockCamera([]*gocv.Mat{&frame}, true)
	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return cam
}

func decodeJPEG(t *testing.T, buf []byte) (int, int) {
	t.Helper()
	img, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode() error = %v", err)
	}
	defer img.Close()
	return img.Cols(), img.Rows()
}

func TestStreamHandler_Frame(t *testing.T) {
	state := overlay.NewState()
	state.Set(&engine.Result{Face: []engine.Face{{Gender: "female"}}})

	surface := overlay.NewSurface()
	surface.Resize(32, 24)
	surface.Present()

	h := NewStreamHandler(StreamConfig{
		Camera:  newTestCamera(t),
		Overlay: state,
		Surface: surface,
		Mirror:  true,
	})

	for _, withText := range []bool{true, false} {
		buf, err := h.Frame(withText)
		if err != nil {
			t.Fatalf("Frame(%v) error = %v", withText, err)
		}
		if w, hgt := decodeJPEG(t, buf); w != 64 || hgt != 48 {
			t.Errorf("Frame(%v) is %dx%d, want the camera size 64x48", withText, w, hgt)
		}
	}
}

func TestStreamHandler_ServeHTTP(t *testing.T) {
	h := NewStreamHandler(StreamConfig{
		Camera:   newTestCamera(t),
		Interval: 10 * time.Millisecond,
	})
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected Content-Type %q", ct)
	}

	mr := multipart.NewReader(resp.Body, "frame")
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part Content-Type = %q, want image/jpeg", ct)
		}
		buf, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("reading part: %v", err)
		}
		if w, hgt := decodeJPEG(t, buf); w != 64 || hgt != 48 {
			t.Errorf("part %d is %dx%d, want 64x48", i, w, hgt)
		}
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	h := NewStreamHandler(StreamConfig{Camera: capture.NewMockCamera(nil, false)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
