package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  bool
	}{
		{name: "info", debug: false, want: false},
		{name: "debug", debug: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New("test", tt.debug)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := logger.Desugar().Core().Enabled(zap.DebugLevel); got != tt.want {
				t.Errorf("debug enabled = %v, want %v", got, tt.want)
			}
			if !logger.Desugar().Core().Enabled(zap.InfoLevel) {
				t.Error("info should always be enabled")
			}
		})
	}
}

func TestNewObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Errorw("webcam error", "error", "denied")
	logger.Debug("detail")

	if logs.Len() != 2 {
		t.Fatalf("observed %d entries, want 2", logs.Len())
	}
	entry := logs.FilterMessage("webcam error").All()
	if len(entry) != 1 || entry[0].ContextMap()["error"] != "denied" {
		t.Errorf("unexpected entries %v", logs.All())
	}
}
