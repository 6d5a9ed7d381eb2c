package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey string

// RequestIDKey is the context key for the outgoing request ID.
const RequestIDKey = contextKey("request-id")

// Logger is a slog.Logger whose records carry the request ID of the API
// call in flight, taken from the context passed to the *Context methods.
type Logger struct {
	*slog.Logger
}

// requestIDHandler decorates records with the request ID found in ctx.
type requestIDHandler struct {
	slog.Handler
}

func (h requestIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetRequestID(ctx); id != "" {
		r.AddAttrs(slog.String(FieldRequestID, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return requestIDHandler{h.Handler.WithAttrs(attrs)}
}

func (h requestIDHandler) WithGroup(name string) slog.Handler {
	return requestIDHandler{h.Handler.WithGroup(name)}
}

func wrap(h slog.Handler) *Logger {
	if _, ok := h.(requestIDHandler); !ok {
		h = requestIDHandler{h}
	}
	return &Logger{Logger: slog.New(h)}
}

// New logs to stderr so stdout stays free for command output.
// format is "json" or "text"; anything else means text.
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	if format == "json" {
		return wrap(slog.NewJSONHandler(w, opts))
	}
	return wrap(slog.NewTextHandler(w, opts))
}

// Default wraps the process-wide slog logger.
func Default() *Logger {
	return wrap(slog.Default().Handler())
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID returns "" when ctx carries no request ID.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel accepts the slog level names in any case. Unknown values
// fall back to warn so the console stays quiet.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelWarn
	}
	return l
}

func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
