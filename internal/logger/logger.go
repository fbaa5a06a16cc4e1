// Package logger is the severity-ranked leveled logger used throughout
// daemonfs, built on log/slog the way the teacher's internal/logger
// package is: package-level Tracef/Debugf/Infof/Warnf/Errorf functions
// backed by a swappable slog.Logger, with TRACE added as a level below
// slog's own Debug since the supervisor wants per-byte I/O tracing that is
// noisier than ordinary debug output.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Severity levels, ranked low to high. TRACE sits below slog's built-in
// Debug (-4) so it can be filtered out independently of debug logging.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarning:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, _ := a.Value.Any().(slog.Level)
		a.Key = "severity"
		a.Value = slog.StringValue(severityName(level))
	}
	return a
}

var programLevel = new(slog.LevelVar)

func newHandler(w io.Writer, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: programLevel, ReplaceAttr: replaceAttr}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var defaultLogger = slog.New(newHandler(os.Stderr, false))

// SetOutput reconfigures the default logger's destination and format.
// Used by tests to capture output; --verbose is honored through SetLevel.
func SetOutput(w io.Writer, json bool) {
	defaultLogger = slog.New(newHandler(w, json))
}

// SetLevel adjusts the minimum severity that is emitted.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func logf(level slog.Level, format string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarning, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
