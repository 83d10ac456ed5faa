package engine

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockEngine is a test implementation of the Engine interface.
// It records every call and lets tests control the results.
type MockEngine struct {
	mu        sync.Mutex
	calls     []string
	result    *Result
	results   []*Result
	loadErr   error
	warmupErr error
	detectErr error
	drawErr   error
	loaded    bool
	closed    bool

	// OnDetect, when set, runs inside Detect before the result is returned.
	OnDetect func(ctx context.Context) error
}

// NewMockEngine creates a new MockEngine returning empty results.
func NewMockEngine() *MockEngine {
	return &MockEngine{result: &Result{}}
}

// SetResult sets the result returned by every Detect call.
func (m *MockEngine) SetResult(r *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
	m.results = nil
}

// QueueResults sets results returned by successive Detect calls. Once the
// queue is drained the last one keeps being returned.
func (m *MockEngine) QueueResults(rs ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = rs
}

// SetLoadError sets the error returned by Load.
func (m *MockEngine) SetLoadError(err error) { m.setErr(&m.loadErr, err) }

// SetWarmupError sets the error returned by Warmup.
func (m *MockEngine) SetWarmupError(err error) { m.setErr(&m.warmupErr, err) }

// SetDetectError sets the error returned by Detect.
func (m *MockEngine) SetDetectError(err error) { m.setErr(&m.detectErr, err) }

// SetDrawError sets the error returned by Draw.
func (m *MockEngine) SetDrawError(err error) { m.setErr(&m.drawErr, err) }

func (m *MockEngine) setErr(dst *error, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = err
}

// Calls returns the names of the calls made so far, in order.
func (m *MockEngine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Count returns how many times the named call was made.
func (m *MockEngine) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockEngine) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

// Load records the call and returns the configured load error.
func (m *MockEngine) Load(ctx context.Context) error {
	m.record("load")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	m.loaded = true
	return nil
}

// Warmup records the call and returns the configured warmup error.
func (m *MockEngine) Warmup(ctx context.Context) error {
	m.record("warmup")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return ErrNotLoaded
	}
	return m.warmupErr
}

// Detect returns the pre-configured result or error.
func (m *MockEngine) Detect(ctx context.Context, frame *gocv.Mat) (*Result, error) {
	m.record("detect")

	if m.OnDetect != nil {
		if err := m.OnDetect(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	if m.detectErr != nil {
		return nil, m.detectErr
	}
	if len(m.results) > 0 {
		r := m.results[0]
		if len(m.results) > 1 {
			m.results = m.results[1:]
		}
		return r, nil
	}
	return m.result, nil
}

// Draw records the call and paints result like the real engine does.
func (m *MockEngine) Draw(surface Surface, result *Result) error {
	m.record("draw")
	m.mu.Lock()
	err := m.drawErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if surface != nil {
		DrawAll(surface.Context(), result)
	}
	return nil
}

// Close marks the engine closed.
func (m *MockEngine) Close() error {
	m.record("close")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Float returns a pointer to v, for filling optional result fields.
func Float(v float64) *float64 {
	return &v
}
