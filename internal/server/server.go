// Package server provides the HTTP presentation surface: the page, the
// composited video stream and the live text block.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"image"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/humanoverlay/internal/app"
	"github.com/ayusman/humanoverlay/internal/capture"
	"github.com/ayusman/humanoverlay/internal/overlay"
	"github.com/ayusman/humanoverlay/internal/server/api"
	"github.com/ayusman/humanoverlay/internal/store"
)

//go:embed web
var webFS embed.FS

// DefaultFrameInterval paces the MJPEG stream.
const DefaultFrameInterval = 33 * time.Millisecond

// Snapshotter provides the last presented overlay.
type Snapshotter interface {
	Snapshot() *image.RGBA
}

// LoopStatus reports the render loop state.
type LoopStatus interface {
	State() app.State
	Frames() int64
	Skipped() int64
}

// Config holds the server configuration.
type Config struct {
	// StaticDir overrides the embedded page when set.
	StaticDir string
	Store     *store.Store
	Camera    capture.Camera
	Overlay   *overlay.State
	Surface   Snapshotter
	Status    LoopStatus

	// Mirror flips the streamed video and overlay horizontally.
	Mirror        bool
	FrameInterval time.Duration
	Logger        *zap.SugaredLogger
}

// Server represents the HTTP server for the application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *zap.SugaredLogger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = DefaultFrameInterval
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: config.Logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Overlay != nil {
		s.mux.HandleFunc("/api/annotations", s.handleAnnotations)
		s.mux.Handle("/api/ws", NewAnnotationsHandler(s.config.Overlay, s.logger))
	}

	if s.config.Camera != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(StreamConfig{
			Camera:   s.config.Camera,
			Overlay:  s.config.Overlay,
			Surface:  s.config.Surface,
			Mirror:   s.config.Mirror,
			Interval: s.config.FrameInterval,
			Logger:   s.logger,
		}))
	}

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Store))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
		return
	}
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		s.logger.Errorw("embedded page unavailable", "error", err)
		return
	}
	s.mux.Handle("/", http.FileServer(http.FS(sub)))
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.logger.Debugw("api request", "method", r.Method, "path", r.URL.Path)
	}
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if st := s.config.Status; st != nil {
		response["state"] = st.State().String()
		response["frames"] = st.Frames()
		response["skipped"] = st.Skipped()
	}

	writeJSON(w, response)
}

// handleAnnotations handles GET requests to /api/annotations.
func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.config.Overlay.Annotations())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s,
		// Streams end with the request context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
