// Package app wires the capture source, the detection engine and the overlay
// into the render loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/humanoverlay/internal/capture"
	"github.com/ayusman/humanoverlay/internal/engine"
	"github.com/ayusman/humanoverlay/internal/overlay"
)

// DefaultRefreshRate is the render loop rate in Hz, matching a typical
// display refresh.
const DefaultRefreshRate = 60.0

// ErrAlreadyStarted is returned by Run when the app has already been run.
var ErrAlreadyStarted = errors.New("app already started")

// State is the lifecycle state of the render loop.
type State int

const (
	// StateIdle is the state before the stream is ready.
	StateIdle State = iota
	// StateInitializing is the state while the engine loads and warms up.
	StateInitializing
	// StateRunning is the steady-state per-frame loop.
	StateRunning
	// StateStopped is reached when the loop is cancelled.
	StateStopped
	// StateFailed is reached when initialization or an iteration fails.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Canvas is the overlay surface as used by the render loop.
type Canvas interface {
	engine.Surface
	Resize(width, height int)
	Clear()
	Present()
}

// SessionRecorder records render loop sessions.
type SessionRecorder interface {
	BeginSession(cfg engine.Config) (string, error)
	EndSession(id string, frames int64, reason string) error
}

// Config holds configuration options for the application.
type Config struct {
	// Camera is the capture source. Defaults to the camera device CameraID.
	Camera   capture.Camera
	CameraID int

	// Engine is the detection engine. Required.
	Engine       engine.Engine
	EngineConfig engine.Config

	// Overlay receives every detection result. Defaults to a new State.
	Overlay *overlay.State
	// Surface is the overlay surface. Defaults to a new overlay.Surface.
	Surface Canvas

	// Scheduler paces the loop. Defaults to a ticker at RefreshRate.
	Scheduler   Scheduler
	RefreshRate float64
	Clock       clock.Clock

	// DetectTimeout bounds each Detect call. A timed out frame is skipped.
	// Zero leaves Detect unbounded.
	DetectTimeout time.Duration

	Sessions SessionRecorder
	Logger   *zap.SugaredLogger
}

// App is the main application that runs the capture/detect/draw loop.
type App struct {
	config    Config
	camera    capture.Camera
	engine    engine.Engine
	overlay   *overlay.State
	surface   Canvas
	scheduler Scheduler
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	state   State
	started bool
	closed  bool
	frames  int64
	skipped int64
	lastErr error
}

// New creates a new App instance with the given configuration.
func New(config Config) (*App, error) {
	if config.Engine == nil {
		return nil, errors.New("app: engine is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	camera := config.Camera
	if camera == nil {
		camera = capture.NewCamera(config.CameraID)
	}

	state := config.Overlay
	if state == nil {
		state = overlay.NewState()
	}

	var surface Canvas = config.Surface
	if surface == nil {
		surface = overlay.NewSurface()
	}

	scheduler := config.Scheduler
	if scheduler == nil {
		rate := config.RefreshRate
		if rate <= 0 {
			rate = DefaultRefreshRate
		}
		clk := config.Clock
		if clk == nil {
			clk = clock.New()
		}
		scheduler = NewTickerScheduler(clk, rate)
	}

	return &App{
		config:    config,
		camera:    camera,
		engine:    config.Engine,
		overlay:   state,
		surface:   surface,
		scheduler: scheduler,
		logger:    logger,
		state:     StateIdle,
	}, nil
}

// Run acquires the capture, waits for the first frame, initializes the engine
// and enters the render loop. It blocks until ctx is cancelled or a step
// fails.
//
// A cancelled context is a normal teardown and yields nil. Any other failure
// is returned and stops the loop for good.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	// Capture
	if err := a.camera.Open(ctx); err != nil {
		if ctx.Err() != nil {
			a.setState(StateStopped)
			return nil
		}
		a.logger.Errorw("webcam error", "error", err)
		return fmt.Errorf("start video: %w", err)
	}
	a.logger.Info("webcam started")

	// First frame metadata
	if err := a.camera.WaitReady(ctx); err != nil {
		return a.fail(ctx, fmt.Errorf("wait for first frame: %w", err))
	}
	w, h := a.camera.Dimensions()
	a.surface.Resize(w, h)
	a.logger.Debugw("stream ready", "width", w, "height", h)

	// Engine
	a.setState(StateInitializing)
	if err := a.engine.Load(ctx); err != nil {
		return a.fail(ctx, fmt.Errorf("load engine: %w", err))
	}
	if err := a.engine.Warmup(ctx); err != nil {
		return a.fail(ctx, fmt.Errorf("warm up engine: %w", err))
	}
	a.logger.Info("engine loaded and warmed up")

	sessionID := a.beginSession()

	a.setState(StateRunning)
	err := a.loop(ctx)

	if err != nil {
		a.endSession(sessionID, err.Error())
		return a.fail(ctx, err)
	}
	a.endSession(sessionID, "stopped")
	a.setState(StateStopped)
	return nil
}

// fail records err and moves to the failed state, unless ctx was cancelled in
// which case the app is simply stopped.
func (a *App) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		a.setState(StateStopped)
		return nil
	}
	a.mu.Lock()
	a.state = StateFailed
	a.lastErr = err
	a.mu.Unlock()
	a.logger.Errorw("render loop halted", "error", err)
	return err
}

func (a *App) beginSession() string {
	if a.config.Sessions == nil {
		return ""
	}
	id, err := a.config.Sessions.BeginSession(a.config.EngineConfig)
	if err != nil {
		a.logger.Warnw("failed to record session", "error", err)
		return ""
	}
	return id
}

func (a *App) endSession(id, reason string) {
	if a.config.Sessions == nil || id == "" {
		return
	}
	if err := a.config.Sessions.EndSession(id, a.Frames(), reason); err != nil {
		a.logger.Warnw("failed to close session", "session", id, "error", err)
	}
}

func (a *App) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// State returns the current lifecycle state.
func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Err returns the error that moved the app to the failed state, if any.
func (a *App) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Frames returns the number of frames detected and drawn.
func (a *App) Frames() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// Skipped returns the number of iterations skipped because no frame was ready
// or detection timed out.
func (a *App) Skipped() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.skipped
}

// Camera returns the capture source.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Overlay returns the overlay state.
func (a *App) Overlay() *overlay.State {
	return a.overlay
}

// Surface returns the overlay surface.
func (a *App) Surface() Canvas {
	return a.surface
}

// Close releases the camera stream and the engine. It must be called after
// Run has returned.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if s, ok := a.scheduler.(interface{ Stop() }); ok {
		s.Stop()
	}

	err := multierr.Combine(
		a.camera.Close(),
		a.engine.Close(),
	)
	if err != nil {
		a.logger.Warnw("error releasing resources", "error", err)
	}
	return err
}
