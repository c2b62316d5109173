package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Log levels used across the application.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Get returns a singleton logger configured with the provided level.
// The first call initializes the logger; subsequent calls ignore the level
// and return the already initialized instance. Use SetLevel to change it
// after config is loaded.
func Get(level string) *Logger {
	once.Do(func() {
		globalLogger = newZapLogger(strings.ToLower(strings.TrimSpace(level)))
	})
	return globalLogger
}

// Nop returns a logger that discards everything. Tests and library
// defaults use it.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Sugared returns the wrapped logger for packages that take a
// *zap.SugaredLogger, tolerating a nil receiver.
func (l *Logger) Sugared() *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l.SugaredLogger
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *zap.SugaredLogger {
	return l.Sugared().Named(name)
}
