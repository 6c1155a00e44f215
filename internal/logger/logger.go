// Package logger is a small leveled wrapper around log/slog, modeled on
// the teacher's internal/logger: a TRACE/DEBUG/INFO/WARNING/ERROR level
// hierarchy with a custom "time=... severity=X message=..." text handler,
// swappable at runtime for tests.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Severity levels, ordered from least to most severe. slog only defines
// four standard levels, so TRACE and WARNING are offset custom levels.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.Level(2)
	LevelError   = slog.LevelError
)

var severityNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

var programLevel = new(slog.LevelVar)
var defaultLogger = slog.New(newHandler(os.Stdout, programLevel))

// SetLevel changes the minimum severity that will be emitted. Pass "OFF"
// to silence all output.
func SetLevel(level string) {
	switch level {
	case "TRACE":
		programLevel.Set(LevelTrace)
	case "DEBUG":
		programLevel.Set(LevelDebug)
	case "INFO":
		programLevel.Set(LevelInfo)
	case "WARNING":
		programLevel.Set(LevelWarning)
	case "ERROR":
		programLevel.Set(LevelError)
	case "OFF":
		programLevel.Set(slog.Level(1 << 30))
	}
}

// SetOutput redirects log output, for test capture.
func SetOutput(w io.Writer) {
	defaultLogger = slog.New(newHandler(w, programLevel))
}

type textHandler struct {
	w     io.Writer
	level *slog.LevelVar
}

func newHandler(w io.Writer, level *slog.LevelVar) slog.Handler {
	return &textHandler{w: w, level: level}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats records as `time="..." severity=X message="..."`,
// matching the teacher's text handler shape.
func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level < h.level.Level() {
		return nil
	}
	sev, ok := severityNames[r.Level]
	if !ok {
		sev = r.Level.String()
	}
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), sev, r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *textHandler) WithGroup(_ string) slog.Handler { return h }

func log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	h, ok := defaultLogger.Handler().(*textHandler)
	if !ok {
		defaultLogger.Log(context.Background(), level, msg)
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	_ = h.Handle(context.Background(), r)
}

func Tracef(format string, args ...any) { log(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { log(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log(LevelWarning, format, args...) }
func Errorf(format string, args ...any) { log(LevelError, format, args...) }

// Fatal logs at ERROR and then panics, for internal contract violations
// that spec.md §7 says must abort the process (corrupted on-device
// records, invariant violations).
func Fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log(LevelError, "%s", msg)
	panic(msg)
}
