// Package tray provides a system tray menu mirroring the text block.
package tray

import (
	"context"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/humanoverlay/internal/overlay"
)

// Tray represents the system tray application.
type Tray struct {
	onOpen func()
	onQuit func()
	mu     sync.RWMutex

	// Menu items stored for later updates
	menuAge     *systray.MenuItem
	menuGender  *systray.MenuItem
	menuEmotion *systray.MenuItem

	last overlay.Annotations
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{}
}

// OnOpen sets the callback function to be called when the open menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("humanoverlay")
	systray.SetTooltip("Human detection overlay")

	t.mu.Lock()
	titles := Titles(t.last)
	t.menuAge = systray.AddMenuItem(titles[0], "Estimated age")
	t.menuGender = systray.AddMenuItem(titles[1], "Estimated gender")
	t.menuEmotion = systray.AddMenuItem(titles[2], "Dominant emotion")
	t.menuAge.Disable()
	t.menuGender.Disable()
	t.menuEmotion.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open in Browser...", "Open the overlay page")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit humanoverlay")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetAnnotations updates the text block shown in the menu.
func (t *Tray) SetAnnotations(a overlay.Annotations) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = a
	if t.menuAge == nil {
		return
	}
	titles := Titles(a)
	t.menuAge.SetTitle(titles[0])
	t.menuGender.SetTitle(titles[1])
	t.menuEmotion.SetTitle(titles[2])
}

// Annotations returns the text block last shown in the menu.
func (t *Tray) Annotations() overlay.Annotations {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Watch keeps the menu in sync with state until ctx is done.
func (t *Tray) Watch(ctx context.Context, state *overlay.State) {
	updates, cancel := state.Subscribe()
	defer cancel()

	t.SetAnnotations(state.Annotations())
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-updates:
			if !ok {
				return
			}
			t.SetAnnotations(a)
		}
	}
}

// Titles returns the three menu titles for a. Before the first result the
// fields are shown empty.
func Titles(a overlay.Annotations) [3]string {
	if !a.Visible {
		return [3]string{"Age:", "Gender:", "Emotion:"}
	}
	lines := a.Lines()
	return [3]string{lines[0], lines[1], lines[2]}
}
