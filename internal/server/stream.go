package server

import (
	"fmt"
	"image"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/humanoverlay/internal/capture"
	"github.com/ayusman/humanoverlay/internal/overlay"
)

// StreamConfig configures a StreamHandler.
type StreamConfig struct {
	Camera   capture.Camera
	Overlay  *overlay.State
	Surface  Snapshotter
	Mirror   bool
	Interval time.Duration
	Logger   *zap.SugaredLogger
}

// StreamHandler serves MJPEG frames of the camera video composited with the
// overlay and the text block.
type StreamHandler struct {
	config StreamConfig
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(config StreamConfig) *StreamHandler {
	if config.Interval <= 0 {
		config.Interval = DefaultFrameInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	return &StreamHandler{config: config}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The page draws its own text block and asks for the bare overlay.
	withText := r.URL.Query().Get("text") != "0"

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		if h.config.Camera.Ready() {
			buf, err := h.Frame(withText)
			if err != nil {
				h.config.Logger.Debugw("stream frame skipped", "error", err)
			} else {
				fmt.Fprintf(w, "--frame\r\n")
				fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
				fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
				if _, err := w.Write(buf); err != nil {
					return
				}
				fmt.Fprintf(w, "\r\n")

				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// Frame returns the current composited frame encoded as JPEG. The text block
// is drawn only when withText is set.
func (h *StreamHandler) Frame(withText bool) ([]byte, error) {
	frame, err := h.config.Camera.ReadFrame()
	if err != nil {
		return nil, err
	}
	img, err := frame.ToImage()
	frame.Close()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}

	var ov image.Image
	if h.config.Surface != nil {
		if snap := h.config.Surface.Snapshot(); snap != nil {
			ov = snap
		}
	}
	var a overlay.Annotations
	if withText && h.config.Overlay != nil {
		a = h.config.Overlay.Annotations()
	}

	out := overlay.Composite(img, ov, a, h.config.Mirror)

	mat, err := gocv.ImageToMatRGB(out)
	if err != nil {
		return nil, fmt.Errorf("convert composite: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// The native buffer is released on return.
	return append([]byte(nil), buf.GetBytes()...), nil
}
