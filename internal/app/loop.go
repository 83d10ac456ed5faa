package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ayusman/humanoverlay/internal/engine"
)

// Scheduler paces the render loop. Next blocks until the next iteration is
// due or ctx is done.
type Scheduler interface {
	Next(ctx context.Context) error
}

// TickerScheduler schedules iterations on a fixed-rate ticker, one per display
// refresh. Ticks missed while an iteration runs are dropped.
type TickerScheduler struct {
	ticker *clock.Ticker
}

// NewTickerScheduler creates a scheduler ticking rate times per second on clk.
func NewTickerScheduler(clk clock.Clock, rate float64) *TickerScheduler {
	interval := time.Duration(float64(time.Second) / rate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &TickerScheduler{ticker: clk.Ticker(interval)}
}

func (s *TickerScheduler) Next(ctx context.Context) error {
	select {
	case <-s.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the ticker.
func (s *TickerScheduler) Stop() {
	s.ticker.Stop()
}

// loop runs iterations until ctx is done or an iteration fails. The first
// iteration runs immediately.
//
// Loop logic:
// 1. Skip the work when the capture has no frame ready, but keep scheduling
// 2. Detect on the current frame; a frame the engine cannot take is skipped
// 3. Store the result for the text block
// 4. Match the surface to the frame dimensions
// 5. Clear, draw the engine annotations and present
// 6. Wait for the next tick
func (a *App) loop(ctx context.Context) error {
	for {
		if err := a.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := a.scheduler.Next(ctx); err != nil {
			return nil
		}
	}
}

func (a *App) iterate(ctx context.Context) error {
	if !a.camera.Ready() {
		a.skip()
		return nil
	}

	frame, err := a.camera.ReadFrame()
	if err != nil {
		a.logger.Debugw("frame not available", "error", err)
		a.skip()
		return nil
	}
	defer frame.Close()

	detectCtx := ctx
	if a.config.DetectTimeout > 0 {
		var cancel context.CancelFunc
		detectCtx, cancel = context.WithTimeout(ctx, a.config.DetectTimeout)
		defer cancel()
	}

	result, err := a.engine.Detect(detectCtx, frame)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, engine.ErrBusy):
			a.logger.Debug("engine busy with an earlier frame, skipping frame")
			a.skip()
			return nil
		case errors.Is(err, context.DeadlineExceeded) && a.config.DetectTimeout > 0:
			a.logger.Warnw("detection timed out, skipping frame", "timeout", a.config.DetectTimeout)
			a.skip()
			return nil
		}
		return fmt.Errorf("detect: %w", err)
	}

	a.overlay.Set(result)

	a.surface.Resize(frame.Cols(), frame.Rows())
	a.surface.Clear()
	if err := a.engine.Draw(a.surface, result); err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	a.surface.Present()

	a.mu.Lock()
	a.frames++
	a.mu.Unlock()
	return nil
}

func (a *App) skip() {
	a.mu.Lock()
	a.skipped++
	a.mu.Unlock()
}
