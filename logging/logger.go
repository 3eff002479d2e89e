// Package logging provides structured logging on top of log/slog for the storefront packages.
//
// Every component logs through its own child logger (WithComponent) so a reader can follow one
// shopper action from the cart or wishlist down to the REST client and back.
package logging

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-storefront-sync/errors"
)

// Logger wraps slog.Logger with the storefront conventions.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level       string    `json:"level" yaml:"level"`             // debug, info, warn, error
	Format      string    `json:"format" yaml:"format"`           // text, json
	AddSource   bool      `json:"add_source" yaml:"add_source"`   // include file:line
	Environment string    `json:"environment" yaml:"environment"` // development, production, test
	Output      io.Writer `json:"-" yaml:"-"`                     // defaults to os.Stdout
}

var DefaultConfig = Config{
	Level:  "info",
	Format: "json",
}

// Operation and Component render as plain strings in log records.
type Operation string

func (o Operation) LogValue() slog.Value { return slog.StringValue(string(o)) }

type Component string

func (c Component) LogValue() slog.Value { return slog.StringValue(string(c)) }

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

func parseLevel(s string) (slog.Level, bool) {
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func newHandler(config Config, level slog.Leveler) slog.Handler {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	if config.Format == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// NewLogger builds a logger from config. Unknown levels fall back to info.
func NewLogger(config Config) *Logger {
	level, _ := parseLevel(config.Level)
	return &Logger{Logger: slog.New(newHandler(config, level))}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// Init replaces the process-wide logger, including slog's default.
func Init(config Config) {
	l := NewLogger(config)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	slog.SetDefault(l.Logger)
}

// Default returns the process-wide logger, configured from the environment on first use.
func Default() *Logger {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	if l != nil {
		return l
	}
	Init(GetConfigFromEnv())
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

func (l *Logger) WithOperation(op Operation) *Logger {
	return &Logger{Logger: l.With(slog.Any("operation", op))}
}

func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// WithUser tags records with the signed-in shopper.
func (l *Logger) WithUser(email string) *Logger {
	if email == "" {
		return l
	}
	return &Logger{Logger: l.With(slog.String("user", email))}
}

// WithComponent is Default().WithComponent.
func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}

type ctxKey int

const requestIDKey ctxKey = iota

// ContextWithRequestID attaches a request id that WithContext and the REST client pick up.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContext returns a child logger carrying the request id of ctx and attrs.
func (l *Logger) WithContext(ctx context.Context, attrs ...slog.Attr) *Logger {
	args := make([]any, 0, len(attrs)+1)
	if id := RequestID(ctx); id != "" {
		args = append(args, slog.String("request_id", id))
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	if len(args) == 0 {
		return l
	}
	return &Logger{Logger: l.With(args...)}
}

// ErrorAttr renders err for a log record. A *errors.SyncError anywhere in the chain becomes a
// "sync_error" group with its operation, component, code, kind and retry hint.
func ErrorAttr(err error) slog.Attr {
	var syncErr *errors.SyncError
	if !stderrors.As(err, &syncErr) {
		if err == nil {
			return slog.Attr{}
		}
		return slog.String("error", err.Error())
	}

	attrs := []slog.Attr{
		slog.String("operation", string(syncErr.Op)),
		slog.String("component", syncErr.Component),
		slog.String("code", string(syncErr.Code)),
		slog.String("kind", string(syncErr.Kind)),
		slog.Bool("retryable", syncErr.Retryable),
		slog.String("message", err.Error()),
	}
	if len(syncErr.Metadata) > 0 {
		meta := make([]any, 0, len(syncErr.Metadata))
		for k, v := range syncErr.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	return slog.Attr{Key: "sync_error", Value: slog.GroupValue(attrs...)}
}

// LogError logs err at error level. The record's source is the caller of LogError.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	l.logAt(ctx, 3, slog.LevelError, msg, append([]slog.Attr{ErrorAttr(err)}, attrs...))
}

// LogOperation runs fn between a debug "operation started" record and either a debug
// "operation completed" or an error "operation failed" record, both carrying the duration.
func (l *Logger) LogOperation(ctx context.Context, op Operation, component Component, fn func() error) error {
	opLogger := l.WithOperation(op).WithComponent(component)
	opLogger.DebugContext(ctx, "operation started")

	start := time.Now()
	err := fn()
	duration := slog.Duration("duration", time.Since(start))

	if err != nil {
		opLogger.logAt(ctx, 3, slog.LevelError, "operation failed",
			[]slog.Attr{ErrorAttr(err), duration, slog.Bool("success", false)})
		return err
	}
	opLogger.DebugContext(ctx, "operation completed", duration, slog.Bool("success", true))
	return nil
}

// logAt emits a record whose program counter is skip frames up the stack.
func (l *Logger) logAt(ctx context.Context, skip int, level slog.Level, msg string, attrs []slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	for _, a := range attrs {
		if a.Key != "" {
			r.AddAttrs(a)
		}
	}
	_ = l.Handler().Handle(ctx, r)
}
