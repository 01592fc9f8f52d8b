package logging

import (
	"context"
	"log/slog"
)

// Standard structured logging keys.
const (
	FieldRequestID = "request_id"
	FieldRoute     = "route"
	FieldTarget    = "target"
	FieldKind      = "kind"
)

type requestIDKey struct{}

// WithRequestID stores the request correlation ID on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation ID stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// WithContext returns logger augmented with the request ID carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		return logger.With(FieldRequestID, id)
	}
	return logger
}
