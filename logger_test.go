package titipan

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogLoggerForwards(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Debug("starting request", "method", "GET")
	logger.Info("retry attempt", "attempt", 2)
	logger.Warn("circuit breaker open", "group", "applications")
	logger.Error("request failed", "kind", "server")

	out := buf.String()
	for _, want := range []string{"starting request", "method=GET", "retry attempt", "attempt=2", "circuit breaker open", "request failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("Log output missing %q:\n%s", want, out)
		}
	}
}

func TestNewSlogLoggerNilUsesDefault(t *testing.T) {
	logger := NewSlogLogger(nil)
	if logger.logger == nil {
		t.Fatal("Expected a usable default logger")
	}
}

func TestDefaultDebugConfig(t *testing.T) {
	config := DefaultDebugConfig()
	if config.Enabled {
		t.Error("Debug should default off")
	}
	for name, flag := range map[string]bool{
		"LogRequests":  config.LogRequests,
		"LogRetries":   config.LogRetries,
		"LogCircuit":   config.LogCircuit,
		"LogDedup":     config.LogDedup,
		"LogRateLimit": config.LogRateLimit,
	} {
		if !flag {
			t.Errorf("%s should default on", name)
		}
	}
}

func TestSimpleLoggerFormatsKeyValues(t *testing.T) {
	logger := NewSimpleLogger()
	// Smoke test only: output goes to stderr.
	logger.Info("retry attempt", "attempt", 2, "group", "applications")
	logger.Debug("dangling key", "orphan")
}
