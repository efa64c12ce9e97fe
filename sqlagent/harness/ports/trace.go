package harnessports

import "context"

// Tracer records spans for runs, model calls and tool calls, plus point events such as
// parse failures and limit stops. The returned context carries the span to nested calls.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
