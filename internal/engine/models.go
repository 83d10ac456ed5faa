package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Model names as published under the model base path.
const (
	ModelBlazeFace     = "blazeface"
	ModelFaceMesh      = "facemesh"
	ModelIris          = "iris"
	ModelEmotion       = "emotion"
	ModelFaceRes       = "faceres"
	ModelMoveNet       = "movenet-lightning"
	ModelHandTrack     = "handtrack"
	ModelHandLandmarks = "handlandmark-full"
)

// ModelSet returns the models required by the enabled families of cfg.
// Gesture detection is computed from the other families and needs no model.
func ModelSet(cfg Config) []string {
	var models []string
	if cfg.Face.Enabled {
		models = append(models, ModelBlazeFace)
		if cfg.Face.Mesh {
			models = append(models, ModelFaceMesh)
		}
		if cfg.Face.Iris {
			models = append(models, ModelIris)
		}
		if cfg.Face.Emotion {
			models = append(models, ModelEmotion)
		}
		if cfg.Face.Description {
			models = append(models, ModelFaceRes)
		}
	}
	if cfg.Body.Enabled {
		models = append(models, ModelMoveNet)
	}
	if cfg.Hand.Enabled {
		models = append(models, ModelHandTrack, ModelHandLandmarks)
	}
	return models
}

// manifest is the subset of a graph model descriptor naming its weight shards.
type manifest struct {
	WeightsManifest []struct {
		Paths []string `json:"paths"`
	} `json:"weightsManifest"`
}

// ModelFetcher downloads model assets from the model base path.
type ModelFetcher struct {
	Client   *http.Client
	CacheDir string
	Logger   *zap.SugaredLogger
}

// NewModelFetcher creates a ModelFetcher caching into cacheDir.
func NewModelFetcher(cacheDir string, logger *zap.SugaredLogger) *ModelFetcher {
	return &ModelFetcher{
		Client:   &http.Client{Timeout: 60 * time.Second},
		CacheDir: cacheDir,
		Logger:   logger,
	}
}

// Fetch makes every model of cfg available locally and returns the directory
// holding them. With CacheModels the cache directory is reused across runs;
// otherwise the models are downloaded into a fresh temporary directory.
func (f *ModelFetcher) Fetch(ctx context.Context, cfg Config) (string, error) {
	dir := f.CacheDir
	if !cfg.CacheModels || dir == "" {
		tmp, err := os.MkdirTemp("", "humanoverlay-models-")
		if err != nil {
			return "", fmt.Errorf("create model dir: %w", err)
		}
		dir = tmp
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	for _, name := range ModelSet(cfg) {
		if err := f.fetchModel(ctx, cfg.ModelBasePath, dir, name); err != nil {
			if f.IsTemp(dir) {
				os.RemoveAll(dir)
			}
			return "", err
		}
	}
	return dir, nil
}

// IsTemp reports whether dir was created by Fetch for a single run, as
// opposed to being the cache directory. Temporary directories are owned by
// the caller.
func (f *ModelFetcher) IsTemp(dir string) bool {
	return f.CacheDir == "" || filepath.Clean(dir) != filepath.Clean(f.CacheDir)
}

func (f *ModelFetcher) fetchModel(ctx context.Context, base, dir, name string) error {
	descriptor := name + ".json"
	data, err := f.fetchFile(ctx, base, dir, descriptor)
	if err != nil {
		return fmt.Errorf("model %s: %w", name, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("model %s: parse descriptor: %w", name, err)
	}
	for _, group := range m.WeightsManifest {
		for _, p := range group.Paths {
			if _, err := f.fetchFile(ctx, base, dir, p); err != nil {
				return fmt.Errorf("model %s: %w", name, err)
			}
		}
	}
	return nil
}

// fetchFile returns the contents of rel, reading it from dir when present
// and downloading it from base otherwise.
func (f *ModelFetcher) fetchFile(ctx context.Context, base, dir, rel string) ([]byte, error) {
	if strings.Contains(rel, "..") {
		return nil, fmt.Errorf("invalid asset path %q", rel)
	}
	local := filepath.Join(dir, filepath.FromSlash(rel))
	if data, err := os.ReadFile(local); err == nil {
		f.debugf("model asset %s served from cache", rel)
		return data, nil
	}

	url := strings.TrimRight(base, "/") + "/" + path.Clean(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(local, data, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", local, err)
	}
	f.debugf("model asset %s downloaded (%d bytes)", rel, len(data))
	return data, nil
}

func (f *ModelFetcher) debugf(format string, args ...any) {
	if f.Logger != nil {
		f.Logger.Debugf(format, args...)
	}
}
