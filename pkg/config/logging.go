package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// slogLevels maps configuration names onto slog levels. WARNING and CRITICAL
// are accepted alongside slog's own names for operators used to syslog-style
// levels.
var slogLevels = map[string]slog.Level{
	"DEBUG":    slog.LevelDebug,
	"INFO":     slog.LevelInfo,
	"WARN":     slog.LevelWarn,
	"WARNING":  slog.LevelWarn,
	"ERROR":    slog.LevelError,
	"CRITICAL": slog.LevelError,
}

// SetupLogging installs the process-wide slog handler described by the
// configuration and returns it. Unknown levels fall back to INFO so the
// function is safe to call with an unvalidated config.
func SetupLogging(cfg LoggingConfig) *slog.Logger {
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func newLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	level, ok := slogLevels[strings.ToUpper(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
