package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"unknown": zapcore.InfoLevel,
	}
	for level, want := range tests {
		log, err := New(level)
		if err != nil {
			t.Fatalf("New(%q): %v", level, err)
		}
		if !log.Core().Enabled(want) {
			t.Errorf("New(%q) should enable %s", level, want)
		}
		if want > zapcore.DebugLevel && log.Core().Enabled(want-1) {
			t.Errorf("New(%q) should not enable %s", level, want-1)
		}
	}
}

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithContext(context.Background(), zap.String("request_id", "req-1"))
	ctx = WithContext(ctx, zap.String("actor_id", "courier-1"))
	For(ctx, base).Info("scan verified")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["actor_id"] != "courier-1" {
		t.Fatalf("missing context fields: %v", fields)
	}
}

func TestForWithoutFieldsReturnsSameLogger(t *testing.T) {
	base := zap.NewNop()
	if For(context.Background(), base) != base {
		t.Fatalf("expected the base logger back")
	}
}
