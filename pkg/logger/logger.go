// Package logger is the service's structured logger: typed fields, JSON or
// text lines, and a context carrier. It is a thin layer over log/slog. Every
// field is nested under "fields" so the fixed keys of a line never collide
// with user data.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// slogLevel maps Debug..Error onto slog's -4, 0, 4, 8.
func (l Level) slogLevel() slog.Level {
	return slog.Level((int(l) - 1) * 4)
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return l.slogLevel().String()
}

// ParseLevel accepts debug, info, warn, warning, error in any case. Anything
// else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Format selects the line encoding. Unknown formats fall back to JSON.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Field is one key-value pair.
type Field struct {
	Key   string
	Value any
}

func (f Field) attr() slog.Attr { return slog.Any(f.Key, f.Value) }

func F(key string, value any) Field           { return Field{key, value} }
func String(key, value string) Field          { return Field{key, value} }
func Int(key string, value int) Field         { return Field{key, value} }
func Int64(key string, value int64) Field     { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field       { return Field{key, value} }
func Strings(key string, v []string) Field    { return Field{key, v} }

// Duration is rendered with time.Duration.String.
func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Time is rendered as RFC 3339.
func Time(key string, t time.Time) Field { return Field{key, t.Format(time.RFC3339)} }

// Err stores the message only; a nil error is logged as null.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Entry is the shape of one JSON line.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Options configures New.
type Options struct {
	Output    io.Writer
	Level     Level
	Format    Format
	AddCaller bool
	// Service is attached to every entry when set.
	Service string
}

// DefaultOptions writes JSON at info level to stdout, with callers.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: LevelInfo, Format: FormatJSON, AddCaller: true}
}

// Logger is safe for concurrent use. Children made with With share the
// parent's writer.
type Logger struct {
	handler   slog.Handler
	addCaller bool
	now       func() time.Time
}

// New builds a Logger writing to opts.Output (stdout when nil).
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	ho := &slog.HandlerOptions{
		AddSource:   opts.AddCaller,
		Level:       opts.Level.slogLevel(),
		ReplaceAttr: renameBuiltins,
	}

	var h slog.Handler
	if opts.Format == FormatText {
		h = slog.NewTextHandler(out, ho)
	} else {
		h = slog.NewJSONHandler(out, ho)
	}
	h = h.WithGroup("fields")
	if opts.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", opts.Service)})
	}

	return &Logger{
		handler:   h,
		addCaller: opts.AddCaller,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// renameBuiltins gives the top-level keys their Entry names and shortens the
// source to file:line.
func renameBuiltins(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: a.Value}
	case slog.SourceKey:
		src, ok := a.Value.Any().(*slog.Source)
		if !ok || src.File == "" {
			return slog.Attr{}
		}
		return slog.String("caller", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
	}
	return a
}

// Default is New(DefaultOptions()).
func Default() *Logger {
	return New(DefaultOptions())
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{handler: discard{}, now: time.Now}
}

type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (d discard) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discard) WithGroup(string) slog.Handler           { return d }

// With returns a child carrying fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = f.attr()
	}
	child := *l
	child.handler = l.handler.WithAttrs(attrs)
	return &child
}

// Slog exposes the same sink as a *slog.Logger for components that take one.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.handler)
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.handler.Enabled(context.Background(), level.slogLevel())
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level.slogLevel()) {
		return
	}
	var pc uintptr
	if l.addCaller {
		var pcs [1]uintptr
		// skip Callers, log and the exported level method
		runtime.Callers(3, pcs[:])
		pc = pcs[0]
	}
	r := slog.NewRecord(l.now(), level.slogLevel(), msg, pc)
	for _, f := range fields {
		r.AddAttrs(f.attr())
	}
	_ = l.handler.Handle(ctx, r)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// RequestIDKey is the field set by WithRequestID.
const RequestIDKey = "request_id"

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// Field helpers for the progress pipeline.
func UserID(id string) Field        { return String("user_id", id) }
func XPAmount(xp int64) Field       { return Int64("xp_amount", xp) }
func UserLevel(level int) Field     { return Int("level", level) }
func BadgeID(id string) Field       { return String("badge_id", id) }
func Attempt(n int) Field           { return Int("attempt", n) }
func Version(v int64) Field         { return Int64("version", v) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
func DurationSeconds(s int64) Field { return Int64("duration_seconds", s) }
