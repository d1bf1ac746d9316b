package logging

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// WithRequestIDCtx returns a new context carrying the request ID.
func WithRequestIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx extracts the request ID from the context.
func RequestIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger attached to ctx, falling back to the global
// logger. The result is tagged with the context's request ID when one is set.
func FromCtx(ctx context.Context) *Logger {
	return ContextLogger(ctx, nil)
}

// ContextLogger is like FromCtx but prefers base over the global logger
// when the context carries none.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	if id := RequestIDFromCtx(ctx); id != "" && id != l.requestID {
		l = l.WithRequestID(id)
	}
	return l
}
