package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/humanoverlay/internal/app"
	"github.com/ayusman/humanoverlay/internal/config"
	"github.com/ayusman/humanoverlay/internal/engine"
	"github.com/ayusman/humanoverlay/internal/logging"
	"github.com/ayusman/humanoverlay/internal/overlay"
	"github.com/ayusman/humanoverlay/internal/server"
	"github.com/ayusman/humanoverlay/internal/store"
	"github.com/ayusman/humanoverlay/internal/tray"
)

// Version is the application version.
const Version = "0.1.0"

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:          "humanoverlay",
	Short:        "Live webcam overlay of face, body and hand detection",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(".env"); err != nil {
			return err
		}
		if err := config.ApplyEnv(cmd.Flags(), os.LookupEnv); err != nil {
			return err
		}
		return cfg.Finalize()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cfg)
	},
}

func init() {
	cfg.RegisterFlags(rootCmd.Flags())
}

func main() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) (err error) {
	logger, err := logging.New("humanoverlay", cfg.Engine.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	eng, err := engine.NewSidecarEngine(cfg.Engine, engine.SidecarOptions{
		Command: cfg.EngineArgs(),
		Fetcher: engine.NewModelFetcher(cfg.ModelCacheDir(), logger.Named("models")),
		Logger:  logger.Named("engine"),
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	state := overlay.NewState()
	surface := overlay.NewSurface()

	application, err := app.New(app.Config{
		CameraID:      cfg.CameraID,
		Engine:        eng,
		EngineConfig:  cfg.Engine,
		Overlay:       state,
		Surface:       surface,
		RefreshRate:   cfg.RefreshRate,
		DetectTimeout: cfg.DetectTimeout,
		Sessions:      st,
		Logger:        logger.Named("app"),
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, application.Close()) }()

	srv := server.New(server.Config{
		StaticDir: cfg.StaticDir,
		Store:     st,
		Camera:    application.Camera(),
		Overlay:   state,
		Surface:   surface,
		Status:    application,
		Mirror:    cfg.Mirror,
		Logger:    logger.Named("server"),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := superviseServer(ctx, cancel, func(ctx context.Context) error {
		return srv.Run(ctx, cfg.Addr)
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := application.Run(ctx); err != nil {
			// The page keeps being served without a loop.
			logger.Errorw("render loop not running", "error", err)
		}
	}()

	if cfg.NoTray {
		<-ctx.Done()
	} else {
		runTray(ctx, cancel, state, cfg.Addr, logger)
	}

	logger.Info("shutting down")
	cancel()
	<-loopDone
	return <-serveErr
}

// superviseServer runs serve in the background and cancels the whole run when
// it returns, so a server failure also ends the tray and the render loop. The
// returned channel yields the server's error.
func superviseServer(ctx context.Context, cancel context.CancelFunc, serve func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := serve(ctx)
		cancel()
		done <- err
	}()
	return done
}

// runTray blocks in the tray event loop until Quit is chosen or ctx is done.
func runTray(ctx context.Context, cancel context.CancelFunc, state *overlay.State, addr string, logger *zap.SugaredLogger) {
	t := tray.New()
	t.OnQuit(cancel)
	t.OnOpen(func() {
		if err := openBrowser(pageURL(addr)); err != nil {
			logger.Warnw("failed to open browser", "error", err)
		}
	})

	go t.Watch(ctx, state)
	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

func pageURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "http://localhost" + addr + "/"
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
