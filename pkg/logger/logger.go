// Package logger constructs the structured loggers used throughout the
// engine. Every subsystem takes a *zap.SugaredLogger at construction time
// rather than reaching for a global, so tests and embedders can redirect or
// silence logging per-instance.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style JSON logger tagged with the given service
// name. The output format and level can be overridden by the IGNITE_LOG_*
// environment variables, which keeps tests and local embedding quiet by
// default while still allowing an operator to turn up verbosity without
// recompiling.
func New(service string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl := os.Getenv("IGNITE_LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(lvl)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	if strings.EqualFold(os.Getenv("IGNITE_LOG_FORMAT"), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	base, err := cfg.Build()
	if err != nil {
		// Building a configured logger should never fail; fall back to a
		// no-op core rather than letting a logging misconfiguration take
		// down the whole engine.
		base = zap.NewNop()
	}
	return base.Sugar().Named(service)
}

// NewNop returns a logger that discards everything, for tests that don't
// want to assert on log output.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
