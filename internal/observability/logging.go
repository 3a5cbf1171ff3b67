// Package observability wires up structured logging and tracing shared by
// every component: one scoped *slog.Logger per component rather than a
// package-level global.
package observability

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger returns a JSON slog logger tagged with the given component name.
func NewLogger(component string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h).With("component", component)
}

// Tracer returns the named tracer from the global OpenTelemetry provider.
// Components that want spans around sandbox calls, LLM streams, or git
// operations call this once at construction time.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a small convenience wrapper so call sites don't need to
// import go.opentelemetry.io/otel/trace directly just to start a span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
