package titipan

import (
	"fmt"
	"log"
	"log/slog"
	"os"
)

// Logger is the minimal structured logging interface the client emits
// debug output through. Key-value pairs alternate key, value.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes human-readable lines to stderr. Suitable for
// examples and local debugging.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a console logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.New(os.Stderr, "titipan ", log.LstdFlags|log.Lmicroseconds)}
}

func (l *SimpleLogger) Debug(msg string, kv ...any) { l.print("DEBUG", msg, kv) }
func (l *SimpleLogger) Info(msg string, kv ...any)  { l.print("INFO", msg, kv) }
func (l *SimpleLogger) Warn(msg string, kv ...any)  { l.print("WARN", msg, kv) }
func (l *SimpleLogger) Error(msg string, kv ...any) { l.print("ERROR", msg, kv) }

func (l *SimpleLogger) print(level, msg string, kv []any) {
	line := level + " " + msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	l.logger.Println(line)
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an slog logger; nil uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l *SlogLogger) Info(msg string, kv ...any)  { l.logger.Info(msg, kv...) }
func (l *SlogLogger) Warn(msg string, kv ...any)  { l.logger.Warn(msg, kv...) }
func (l *SlogLogger) Error(msg string, kv ...any) { l.logger.Error(msg, kv...) }

// DebugConfig selects which lifecycle events are logged when a Logger
// is configured. All flags default on; gate noise by switching
// individual flags off rather than dropping the logger.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCircuit   bool
	LogDedup     bool
	LogRateLimit bool
}

// DefaultDebugConfig returns a disabled config with all event flags set,
// so enabling debug turns everything on at once.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCircuit:   true,
		LogDedup:     true,
		LogRateLimit: true,
	}
}
