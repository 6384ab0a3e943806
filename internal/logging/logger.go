// Package logging defines the structured-logging interface used across the
// server. Backends wrap log/slog or zerolog.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "token rotated", "user_id", id)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// Nop discards everything. Handy in tests.
type Nop struct{}

func (Nop) Debug(context.Context, string, ...any) {}
func (Nop) Info(context.Context, string, ...any)  {}
func (Nop) Warn(context.Context, string, ...any)  {}
func (Nop) Error(context.Context, string, ...any) {}
func (n Nop) With(...any) Logger                  { return n }

type ctxFieldsKey struct{}

// ContextWith returns a copy of ctx carrying key-value pairs that every
// backend adds to records logged with that context, e.g. the request id.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(ctxFieldsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

// withContextFields prepends the pairs stored by ContextWith to args.
func withContextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	prev, _ := ctx.Value(ctxFieldsKey{}).([]any)
	if len(prev) == 0 {
		return args
	}
	out := make([]any, 0, len(prev)+len(args))
	out = append(out, prev...)
	return append(out, args...)
}
