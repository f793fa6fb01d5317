package utils

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		debug bool
		level zapcore.Level
	}{
		{debug: true, level: zapcore.DebugLevel},
		{debug: false, level: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := NewLogger(tt.debug)
		if err != nil {
			t.Fatalf("NewLogger(%v): %v", tt.debug, err)
		}
		if !logger.Core().Enabled(tt.level) {
			t.Errorf("NewLogger(%v) should enable %s", tt.debug, tt.level)
		}
		if tt.level > zapcore.DebugLevel && logger.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("NewLogger(%v) should not enable debug", tt.debug)
		}
		_ = logger.Sync()
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
