package logger

import (
	"context"
	"fmt"
	"sync/atomic"
)

type traceKey struct{}

var traceSeq uint64

// StartSpan stamps ctx with a trace ID (generating one if none is present
// yet) and returns a func to call when the traced operation finishes. Used
// by httpapi's request middleware so every log line emitted while handling
// one request carries the same ID.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	if GetTraceID(ctx) == "" {
		id := atomic.AddUint64(&traceSeq, 1)
		ctx = WithTraceID(ctx, fmt.Sprintf("%s-%d", name, id))
	}
	return ctx, func() {}
}

// WithTraceID attaches a trace ID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// GetTraceID retrieves the trace ID stamped onto ctx by StartSpan, or ""
// if none is present.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceKey{}).(string); ok {
		return traceID
	}
	return ""
}
