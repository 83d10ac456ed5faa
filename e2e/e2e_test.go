package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/humanoverlay/internal/app"
	"github.com/ayusman/humanoverlay/internal/capture"
	"github.com/ayusman/humanoverlay/internal/engine"
	"github.com/ayusman/humanoverlay/internal/logging"
	"github.com/ayusman/humanoverlay/internal/overlay"
	"github.com/ayusman/humanoverlay/internal/server"
	"github.com/ayusman/humanoverlay/internal/store"
	"github.com/ayusman/humanoverlay/testdata"
)

type harness struct {
	app    *app.App
	engine *engine.MockEngine
	camera *capture.MockCamera
	store  *store.Store
	state  *overlay.State
	ts     *httptest.Server
	runErr chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, camera *capture.MockCamera) *harness {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger, _ := logging.NewObservedTestLogger(t)
	state := overlay.NewState()
	surface := overlay.NewSurface()
	mock := engine.NewMockEngine()

	application, err := app.New(app.Config{
		Camera:       camera,
		Engine:       mock,
		EngineConfig: engine.DefaultConfig(),
		Overlay:      state,
		Surface:      surface,
		RefreshRate:  200,
		Sessions:     s,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { application.Close() })

	ts := httptest.NewServer(server.New(server.Config{
		Store:         s,
		Camera:        camera,
		Overlay:       state,
		Surface:       surface,
		Status:        application,
		FrameInterval: 10 * time.Millisecond,
		Logger:        logger,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		app:    application,
		engine: mock,
		camera: camera,
		store:  s,
		state:  state,
		ts:     ts,
		runErr: make(chan error, 1),
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.runErr <- h.app.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func (h *harness) health(t *testing.T) map[string]interface{} {
	t.Helper()
	resp, err := h.ts.Client().Get(h.ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	return health
}

func TestE2E_CameraDenied(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	camera := capture.NewMockCamera(nil, false)
	camera.SetOpenError(errors.New("permission denied"))
	h := newHarness(t, camera)

	h.start(t)
	if err := h.wait(t); !errors.Is(err, capture.ErrCameraUnavailable) {
		t.Fatalf("Run() error = %v, want ErrCameraUnavailable", err)
	}

	t.Run("ServerStaysUp", func(t *testing.T) {
		health := h.health(t)
		if health["status"] != "ok" {
			t.Errorf("status = %v, want ok", health["status"])
		}
		if health["state"] != "idle" {
			t.Errorf("state = %v, want idle", health["state"])
		}
	})

	t.Run("NoTextBlock", func(t *testing.T) {
		if h.state.Annotations().Visible {
			t.Error("text block should stay hidden")
		}
	})

	t.Run("EngineUntouched", func(t *testing.T) {
		if n := len(h.engine.Calls()); n != 0 {
			t.Errorf("engine got %d calls, want 0", n)
		}
	})

	t.Run("NoSession", func(t *testing.T) {
		sessions, err := h.store.Sessions().List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(sessions) != 0 {
			t.Errorf("recorded %d sessions, want 0", len(sessions))
		}
	})
}

func TestE2E_LiveOverlay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frames, err := testdata.Sequence([2]int{64, 48})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	defer testdata.Close(frames)

	h := newHarness(t, capture.NewMockCamera(frames, true))
	h.engine.SetResult(&engine.Result{
		Face: []engine.Face{{
			Box:     engine.Box{X: 10, Y: 10, Width: 20, Height: 20},
			Score:   0.9,
			Age:     engine.Float(29.6),
			Emotion: []engine.EmotionScore{{Emotion: "happy", Score: 0.8}},
		}},
	})

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	h.start(t)

	t.Run("TextBlockPushed", func(t *testing.T) {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		want := overlay.Annotations{Visible: true, Age: "30", Gender: "N/A", Emotion: "happy"}
		for {
			var msg overlay.Annotations
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("ReadJSON() error = %v", err)
			}
			if msg.Visible {
				if msg != want {
					t.Errorf("pushed annotations = %+v, want %+v", msg, want)
				}
				return
			}
		}
	})

	t.Run("HealthReportsRunning", func(t *testing.T) {
		health := h.health(t)
		if health["state"] != "running" {
			t.Errorf("state = %v, want running", health["state"])
		}
	})

	t.Run("StreamServesCompositeFrames", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.ts.URL+"/api/stream", nil)
		resp, err := h.ts.Client().Do(req)
		if err != nil {
			t.Fatalf("GET /api/stream error = %v", err)
		}
		defer resp.Body.Close()

		buf := make([]byte, 64)
		if _, err := resp.Body.Read(buf); err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if !strings.HasPrefix(string(buf), "--frame") {
			t.Errorf("stream should start with a frame boundary, got %q", buf)
		}
	})

	h.cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error = %v, want nil on teardown", err)
	}
	if h.app.State() != app.StateStopped {
		t.Errorf("State() = %v, want stopped", h.app.State())
	}

	t.Run("SessionRecorded", func(t *testing.T) {
		sessions, err := h.store.Sessions().List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(sessions) != 1 {
			t.Fatalf("recorded %d sessions, want 1", len(sessions))
		}
		if sessions[0].Reason != "stopped" || sessions[0].Frames == 0 || sessions[0].Running() {
			t.Errorf("session = %+v", sessions[0])
		}
	})

	t.Run("ResourcesReleased", func(t *testing.T) {
		if err := h.app.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if h.camera.IsOpen() || !h.engine.Closed() {
			t.Error("camera and engine should be released")
		}
	})
}

func TestE2E_DetectFailureHalts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frames, err := testdata.Sequence([2]int{32, 24})
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	defer testdata.Close(frames)

	h := newHarness(t, capture.NewMockCamera(frames, true))

	boom := errors.New("engine crashed")
	calls := 0
	h.engine.OnDetect = func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	}

	h.start(t)
	if err := h.wait(t); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}

	if got := h.engine.Count("detect"); got != 3 {
		t.Errorf("detect count = %d, want 3", got)
	}
	if got := h.engine.Count("draw"); got != 2 {
		t.Errorf("draw count = %d, want 2", got)
	}

	health := h.health(t)
	if health["state"] != "failed" {
		t.Errorf("state = %v, want failed", health["state"])
	}

	sessions, err := h.store.Sessions().List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 1 || !strings.Contains(sessions[0].Reason, "engine crashed") {
		t.Errorf("sessions = %+v", sessions)
	}
}
