// Package log provides the structured logger used across the server. It
// wraps zerolog behind a small context-aware interface and configures the
// global logger packages log through directly.
package log

import "context"

// Logger is a leveled, structured logger. Implementations enrich every
// event with the trace and span ids found in ctx.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, msg string, err error, fields ...map[string]any)
	Fatal(ctx context.Context, msg string, err error, fields ...map[string]any)
	// With returns a new logger carrying the fields on every event.
	With(fields map[string]any) Logger
}
