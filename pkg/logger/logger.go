// Package logger builds the zap loggers used across the module. Components
// receive a *zap.Logger explicitly; there is no hidden global.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at the provided level. Unparseable
// levels fall back to info rather than failing startup.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}

// Nop returns a no-op logger, useful as a default when callers pass nil.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Named returns a child of log annotated with a component name, defaulting to
// a no-op logger when log is nil.
func Named(log *zap.Logger, component string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named(component)
}
