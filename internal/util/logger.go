package util

import (
	"io"
	"log/slog"
	"os"
)

var (
	logger  *slog.Logger
	verbose bool
)

// LogOptions selects the handler installed by InitLoggerWith.
type LogOptions struct {
	Verbose bool
	// Format is "text" or "json".
	Format string
	Output io.Writer
}

// InitLogger initializes the global slog logger. Logs go to stderr so
// status output on stdout stays clean.
func InitLogger(verbose bool) {
	InitLoggerWith(LogOptions{Verbose: verbose})
}

// InitLoggerWith installs a logger built from opts as the slog default.
func InitLoggerWith(opts LogOptions) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	verbose = opts.Verbose
	if opts.Verbose {
		handlerOpts.Level = slog.LevelDebug
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	if logger == nil {
		InitLogger(false)
	}
	return logger
}

// IsVerbose reports whether the installed logger emits debug records.
func IsVerbose() bool {
	return verbose
}
