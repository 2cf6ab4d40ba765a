package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// ContextFields extracts run-context correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	rc := runctx.From(ctx)
	if rc == nil {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", rc.TraceID()),
		zap.String("span_id", rc.SpanID()),
		zap.String("mode", string(rc.Mode())),
	}
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
