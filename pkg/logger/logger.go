// Package logger builds the structured loggers used throughout Pelikan.
//
// Every subsystem constructor in this repository (engine, storage,
// index, server, proxy, ...) takes a *zap.SugaredLogger rather than
// constructing its own, so this package has exactly one job: build a
// logger consistently configured for a named service and hand it to
// whoever is assembling the process.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger for the given service name.
//
// The environment variable PELIKAN_LOG_LEVEL (debug|info|warn|error,
// case-insensitive) controls verbosity; it defaults to info. Production
// encoding (JSON) is used unless PELIKAN_LOG_DEV is set to a non-empty
// value, in which case a human-readable console encoder is used instead.
func New(service string) *zap.SugaredLogger {
	level := parseLevel(os.Getenv("PELIKAN_LOG_LEVEL"))

	var cfg zap.Config
	if os.Getenv("PELIKAN_LOG_DEV") != "" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	log, err := cfg.Build()
	if err != nil {
		// Logging must never be the reason the process can't start;
		// fall back to a no-op core rather than panicking.
		log = zap.NewNop()
	}

	return log.With(zap.String("service", service)).Sugar()
}

// NewNop returns a logger that discards everything, useful for tests
// that want a real *zap.SugaredLogger without any output.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes any buffered log entries, swallowing the common
// "invalid argument" error zap returns when stderr is a terminal.
func Sync(log *zap.SugaredLogger) {
	if log == nil {
		return
	}
	if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
		fmt.Fprintf(os.Stderr, "logger sync: %v\n", err)
	}
}
