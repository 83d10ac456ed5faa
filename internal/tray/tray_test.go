package tray

import (
	"context"
	"testing"
	"time"

	"github.com/ayusman/humanoverlay/internal/engine"
	"github.com/ayusman/humanoverlay/internal/overlay"
)

func TestTitles(t *testing.T) {
	tests := []struct {
		name string
		in   overlay.Annotations
		want [3]string
	}{
		{
			name: "before first result",
			in:   overlay.Annotations{},
			want: [3]string{"Age:", "Gender:", "Emotion:"},
		},
		{
			name: "with result",
			in:   overlay.Annotations{Visible: true, Age: "30", Gender: "male", Emotion: "N/A"},
			want: [3]string{"Age: 30", "Gender: male", "Emotion: N/A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Titles(tt.in); got != tt.want {
				t.Errorf("Titles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTray_Watch(t *testing.T) {
	tr := New()
	state := overlay.NewState()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Watch(ctx, state)
		close(done)
	}()

	// Set until the watcher has subscribed and picked the update up.
	deadline := time.Now().Add(2 * time.Second)
	for tr.Annotations().Gender != "female" {
		if time.Now().After(deadline) {
			t.Fatal("tray did not receive the update")
		}
		state.Set(&engine.Result{Face: []engine.Face{{Gender: "female"}}})
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}
