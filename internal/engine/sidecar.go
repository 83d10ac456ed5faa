package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Request opcodes understood by the engine service.
const (
	opConfigure byte = 'C'
	opWarmup    byte = 'W'
	opDetect    byte = 'D'
)

// shutdownGrace is how long the service gets to exit after its stdin is
// closed before it is killed.
const shutdownGrace = 3 * time.Second

// ServiceScript is the file name of the engine service script.
const ServiceScript = "human_service.js"

// SidecarEngine implements Engine by driving an external engine service
// process over its stdin/stdout.
//
// Each request is an opcode byte, a 4 byte big-endian payload length and the
// payload. Each response is a single JSON line.
type SidecarEngine struct {
	config  Config
	command []string
	fetcher *ModelFetcher
	logger  *zap.SugaredLogger

	// busy is set while a Detect exchange is in flight.
	busy atomic.Bool

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	modelDir string
	loaded   bool
	warm     bool
	closed   bool

	// procMu guards the running process so Close can kill it while an
	// exchange holds mu.
	procMu sync.Mutex
	proc   *os.Process
	killed bool
}

// SidecarOptions configures a SidecarEngine.
type SidecarOptions struct {
	// Command is the service command line. When empty the service script is
	// looked up in the usual locations and run with node.
	Command []string
	// Fetcher downloads model assets before the service starts. It may be nil
	// when the service fetches its own models.
	Fetcher *ModelFetcher
	Logger  *zap.SugaredLogger
}

// NewSidecarEngine creates a new engine for config. The service process is
// started by Load.
func NewSidecarEngine(config Config, opts SidecarOptions) (*SidecarEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	command := opts.Command
	if len(command) == 0 {
		script := findServiceScript()
		if script == "" {
			return nil, fmt.Errorf("%s not found", ServiceScript)
		}
		command = []string{"node", script}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &SidecarEngine{
		config:  config,
		command: command,
		fetcher: opts.Fetcher,
		logger:  logger,
	}, nil
}

type response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

type configurePayload struct {
	Config   Config `json:"config"`
	ModelDir string `json:"modelDir,omitempty"`
}

// Load fetches the models, starts the service and sends it the configuration.
func (e *SidecarEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.loaded {
		return nil
	}

	var modelDir string
	if e.fetcher != nil {
		dir, err := e.fetcher.Fetch(ctx, e.config)
		if err != nil {
			return fmt.Errorf("fetch models: %w", err)
		}
		modelDir = dir
		if e.fetcher.IsTemp(dir) {
			e.modelDir = dir
		}
	}

	if err := e.start(); err != nil {
		return err
	}

	payload, err := json.Marshal(configurePayload{Config: e.config, ModelDir: modelDir})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if _, err := e.roundTrip(ctx, "load", opConfigure, payload); err != nil {
		return multierr.Append(err, e.shutdown())
	}

	e.loaded = true
	e.logger.Infow("engine loaded", "backend", e.config.Backend, "families", e.config.Families())
	return nil
}

// Warmup runs one throwaway inference inside the service.
func (e *SidecarEngine) Warmup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLoaded(); err != nil {
		return err
	}
	start := time.Now()
	if _, err := e.roundTrip(ctx, "warmup", opWarmup, nil); err != nil {
		return err
	}
	e.warm = true
	e.logger.Debugw("engine warmed up", "elapsed", time.Since(start))
	return nil
}

// Detect sends frame to the service and returns its result.
//
// If ctx ends first, Detect returns ctx.Err() and the exchange finishes in
// the background with its result discarded. Until it does, Detect returns
// ErrBusy without sending anything, so at most one frame is ever pending.
func (e *SidecarEngine) Detect(ctx context.Context, frame *gocv.Mat) (*Result, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		e.busy.Store(false)
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()
	width, height := frame.Cols(), frame.Rows()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer e.busy.Store(false)
		e.mu.Lock()
		defer e.mu.Unlock()

		if err := e.checkLoaded(); err != nil {
			done <- outcome{err: err}
			return
		}
		raw, err := e.roundTrip(context.Background(), "detect", opDetect, data)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		var result Result
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &result); err != nil {
				done <- outcome{err: fmt.Errorf("parse result: %w", err)}
				return
			}
		}
		result.Width = width
		result.Height = height
		result.Timestamp = time.Now()
		done <- outcome{result: &result}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Draw paints result onto surface.
func (e *SidecarEngine) Draw(surface Surface, result *Result) error {
	if surface == nil {
		return errors.New("nil surface")
	}
	DrawAll(surface.Context(), result)
	return nil
}

// Close shuts down the service process and removes temporary model assets.
// An exchange still in flight is ended by killing the service.
func (e *SidecarEngine) Close() error {
	if !e.mu.TryLock() {
		e.kill()
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	err := e.shutdown()
	if e.modelDir != "" {
		err = multierr.Append(err, os.RemoveAll(e.modelDir))
		e.modelDir = ""
	}
	return err
}

func (e *SidecarEngine) kill() {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if e.proc == nil {
		return
	}
	if err := e.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.logger.Warnw("failed to kill engine service", "error", err)
		return
	}
	e.killed = true
	e.logger.Warn("engine service killed")
}

func (e *SidecarEngine) checkLoaded() error {
	if e.closed {
		return ErrClosed
	}
	if !e.loaded {
		return ErrNotLoaded
	}
	return nil
}

func (e *SidecarEngine) start() error {
	e.cmd = exec.Command(e.command[0], e.command[1:]...)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Service diagnostics go straight to our stderr
	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start engine service: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)

	e.procMu.Lock()
	e.proc = e.cmd.Process
	e.killed = false
	e.procMu.Unlock()
	return nil
}

// roundTrip writes one request and reads its response. The context is only
// checked before writing; once written, the response is always consumed.
func (e *SidecarEngine) roundTrip(ctx context.Context, name string, op byte, payload []byte) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.stdin == nil || e.stdout == nil {
		return nil, ErrNotLoaded
	}

	if err := writeRequest(e.stdin, op, payload); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", name, err)
	}
	if !resp.OK {
		return nil, &RemoteError{Op: name, Message: resp.Error}
	}
	return resp.Result, nil
}

func writeRequest(w io.Writer, op byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = op
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func (e *SidecarEngine) shutdown() error {
	if e.cmd == nil {
		return nil
	}

	var err error
	if e.stdin != nil {
		err = multierr.Append(err, e.stdin.Close())
	}
	cmd := e.cmd
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-exited:
	case <-time.After(shutdownGrace):
		e.kill()
		waitErr = <-exited
	}

	e.procMu.Lock()
	var exitErr *exec.ExitError
	if e.killed && errors.As(waitErr, &exitErr) {
		waitErr = nil
	}
	e.proc = nil
	e.killed = false
	e.procMu.Unlock()

	err = multierr.Append(err, waitErr)
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil
	e.loaded = false
	e.warm = false
	return err
}

// findServiceScript looks for the engine service script in common locations.
func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".humanoverlay", "scripts", ServiceScript),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
