package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "console")
			if Log == nil {
				t.Fatal("expected Log to be initialized")
			}
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("level %q: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestSetupFormats(t *testing.T) {
	for _, format := range []string{"console", "json", "JSON", ""} {
		Setup("info", format)
		Log.Info("format smoke test", "format", format)
	}
}

func TestFieldHandling(t *testing.T) {
	Setup("debug", "console")

	Log.Info("no fields")
	Log.Debug("typed fields", "str", "v", "int", 42, "float", 3.14, "bool", true)
	Log.Warn("odd trailing key is dropped", "key", "value", "orphan")
	Log.Error("non-string key", 123, "value")
	Log.Info("nil value", "key", nil)
}

func TestWithComponent(t *testing.T) {
	Setup("info", "console")
	sub := Log.With("estimator")
	if sub == nil {
		t.Fatal("expected child logger")
	}
	sub.Info("component-tagged message", "boundary", "blk.0.attn_qkv")
}
