// Package config resolves the startup configuration from defaults, an
// optional .env file, HUMANOVERLAY_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ayusman/humanoverlay/internal/engine"
)

// EnvPrefix prefixes the environment variable of every flag.
const EnvPrefix = "HUMANOVERLAY_"

// Defaults for the non-engine settings.
const (
	DefaultAddr        = ":8080"
	DefaultRefreshRate = 60.0
	DefaultDBName      = "humanoverlay.db"
)

// Config is the complete startup configuration. It is not changed at runtime.
type Config struct {
	Engine engine.Config

	CameraID      int
	Addr          string
	RefreshRate   float64
	DetectTimeout time.Duration
	// EngineCommand is the engine service command line, split on whitespace.
	// Empty selects the bundled service script.
	EngineCommand string
	DataDir       string
	StaticDir     string
	Mirror        bool
	NoTray        bool
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Engine:      engine.DefaultConfig(),
		CameraID:    0,
		Addr:        DefaultAddr,
		RefreshRate: DefaultRefreshRate,
		DataDir:     defaultDataDir(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".humanoverlay"
	}
	return filepath.Join(home, ".humanoverlay")
}

// RegisterFlags binds every setting to a flag on fs, with the current values
// of c as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	e := &c.Engine
	fs.StringVar(&e.Backend, "backend", e.Backend, "Engine compute backend: "+strings.Join(engine.Backends, ", "))
	fs.StringVar(&e.ModelBasePath, "model-base-path", e.ModelBasePath, "Base URL of the model assets")
	fs.BoolVar(&e.CacheModels, "cache-models", e.CacheModels, "Cache model assets on disk")
	fs.BoolVar(&e.Debug, "debug", e.Debug, "Verbose engine diagnostics and debug logging")
	fs.BoolVar(&e.Face.Enabled, "face", e.Face.Enabled, "Enable face detection")
	fs.BoolVar(&e.Face.Mesh, "face-mesh", e.Face.Mesh, "Enable the face mesh")
	fs.BoolVar(&e.Face.Iris, "face-iris", e.Face.Iris, "Enable iris analysis")
	fs.BoolVar(&e.Face.Emotion, "face-emotion", e.Face.Emotion, "Enable emotion classification")
	fs.BoolVar(&e.Face.Description, "face-description", e.Face.Description, "Enable age, gender and descriptor")
	fs.BoolVar(&e.Body.Enabled, "body", e.Body.Enabled, "Enable body pose detection")
	fs.BoolVar(&e.Hand.Enabled, "hand", e.Hand.Enabled, "Enable hand detection")
	fs.BoolVar(&e.Gesture.Enabled, "gesture", e.Gesture.Enabled, "Enable gesture recognition")

	fs.IntVar(&c.CameraID, "camera", c.CameraID, "Camera device id")
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.Float64Var(&c.RefreshRate, "refresh-rate", c.RefreshRate, "Render loop rate in Hz")
	fs.DurationVar(&c.DetectTimeout, "detect-timeout", c.DetectTimeout, "Skip a frame when detection takes longer (0 waits forever)")
	fs.StringVar(&c.EngineCommand, "engine-command", c.EngineCommand, "Engine service command line")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "Directory for the database and model cache")
	fs.StringVar(&c.StaticDir, "static-dir", c.StaticDir, "Serve the page from this directory instead of the embedded one")
	fs.BoolVar(&c.Mirror, "mirror", c.Mirror, "Mirror the video horizontally")
	fs.BoolVar(&c.NoTray, "no-tray", c.NoTray, "Do not show the system tray menu")
}

// EnvName returns the environment variable for a flag name.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// LoadDotEnv loads path into the process environment. Variables already set
// are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv sets every flag not given on the command line from its
// environment variable, looked up with lookup.
func ApplyEnv(fs *pflag.FlagSet, lookup func(string) (string, bool)) error {
	var errs []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := EnvName(f.Name)
		v, ok := lookup(name)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: %v", name, v, err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Finalize turns off face sub-features when face detection is disabled and
// validates the result.
func (c *Config) Finalize() error {
	if !c.Engine.Face.Enabled {
		c.Engine.Face = engine.FaceConfig{}
	}
	return c.Validate()
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.CameraID < 0 {
		return fmt.Errorf("camera id must not be negative: %d", c.CameraID)
	}
	if c.Addr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("refresh rate must be positive: %v", c.RefreshRate)
	}
	if c.DetectTimeout < 0 {
		return fmt.Errorf("detect timeout must not be negative: %v", c.DetectTimeout)
	}
	if c.DataDir == "" {
		return errors.New("data directory must not be empty")
	}
	return nil
}

// DBPath returns the session database path.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, DefaultDBName)
}

// ModelCacheDir returns the model asset cache directory.
func (c Config) ModelCacheDir() string {
	return filepath.Join(c.DataDir, "models")
}

// EngineArgs returns EngineCommand split into arguments, or nil.
func (c Config) EngineArgs() []string {
	args := strings.Fields(c.EngineCommand)
	if len(args) == 0 {
		return nil
	}
	return args
}
