// Package engine defines the contract of the external detection engine and
// its configuration, result model and drawing routine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fogleman/gg"
	"gocv.io/x/gocv"
)

var (
	// ErrNotLoaded is returned when Warmup or Detect run before a successful Load.
	ErrNotLoaded = errors.New("engine is not loaded")
	// ErrClosed is returned by any operation on a closed engine.
	ErrClosed = errors.New("engine is closed")
	// ErrBusy is returned by Detect while an earlier exchange is still in
	// flight. The frame is not sent.
	ErrBusy = errors.New("engine is busy")
)

// Engine is the detection library as seen by the render loop.
type Engine interface {
	// Load fetches model assets and initializes the engine. It must complete
	// before Detect is called.
	Load(ctx context.Context) error

	// Warmup primes the engine to reduce first frame latency.
	Warmup(ctx context.Context) error

	// Detect runs every enabled detection family on a single frame.
	Detect(ctx context.Context, frame *gocv.Mat) (*Result, error)

	// Draw paints every feature in result onto surface. It does not clear.
	Draw(surface Surface, result *Result) error

	// Close releases any resources held by the engine.
	Close() error
}

// Surface is a drawable region the engine paints annotations on.
type Surface interface {
	Context() *gg.Context
	Size() (width, height int)
}

// FaceConfig enables the face family and its sub-features.
type FaceConfig struct {
	Enabled     bool `json:"enabled"`
	Mesh        bool `json:"mesh"`
	Iris        bool `json:"iris"`
	Emotion     bool `json:"emotion"`
	Description bool `json:"description"`
}

// FeatureConfig enables a detection family without sub-features.
type FeatureConfig struct {
	Enabled bool `json:"enabled"`
}

// Config is the one-time engine configuration.
type Config struct {
	Backend       string        `json:"backend"`
	ModelBasePath string        `json:"modelBasePath"`
	CacheModels   bool          `json:"cacheModels"`
	Debug         bool          `json:"debug"`
	Face          FaceConfig    `json:"face"`
	Body          FeatureConfig `json:"body"`
	Hand          FeatureConfig `json:"hand"`
	Gesture       FeatureConfig `json:"gesture"`
}

// Default configuration values.
const (
	DefaultBackend       = "webgl"
	DefaultModelBasePath = "https://vladmandic.github.io/human/models"
)

// Backends lists the compute backends the engine accepts.
var Backends = []string{"webgl", "humangl", "webgpu", "wasm", "cpu", "tensorflow"}

// DefaultConfig returns a Config with every family enabled.
func DefaultConfig() Config {
	return Config{
		Backend:       DefaultBackend,
		ModelBasePath: DefaultModelBasePath,
		CacheModels:   true,
		Debug:         false,
		Face: FaceConfig{
			Enabled:     true,
			Mesh:        true,
			Iris:        true,
			Emotion:     true,
			Description: true,
		},
		Body:    FeatureConfig{Enabled: true},
		Hand:    FeatureConfig{Enabled: true},
		Gesture: FeatureConfig{Enabled: true},
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Backend == "" {
		return errors.New("backend must not be empty")
	}
	if !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("unsupported backend %q, want one of %v", c.Backend, Backends)
	}
	if c.ModelBasePath == "" {
		return errors.New("model base path must not be empty")
	}
	if !c.Face.Enabled {
		f := c.Face
		if f.Mesh || f.Iris || f.Emotion || f.Description {
			return fmt.Errorf("face sub-features enabled while face detection is disabled: %+v", f)
		}
	}
	return nil
}

// Families returns the names of the enabled detection families.
func (c Config) Families() []string {
	var out []string
	if c.Face.Enabled {
		out = append(out, "face")
	}
	if c.Body.Enabled {
		out = append(out, "body")
	}
	if c.Hand.Enabled {
		out = append(out, "hand")
	}
	if c.Gesture.Enabled {
		out = append(out, "gesture")
	}
	return out
}

// RemoteError is an error reported by the engine process itself.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Op, e.Message)
}
