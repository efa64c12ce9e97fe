package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

type spanKey struct{}

// span is the active span carried in a context.
type span struct {
	name   string
	attrs  map[string]any // own and inherited attributes
	logger zerolog.Logger
}

// ZerologTracer writes spans as structured log lines. Span boundaries log at debug level,
// failed spans at warn, events at info.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a tracer writing to logger.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{
		logger: logger,
	}
}

// StartSpan opens a span. A span started under another inherits its fields and records
// the parent span name.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	merged := make(map[string]any, len(attrs))
	lc := t.logger.With().Str("span", name)
	if parent, ok := ctx.Value(spanKey{}).(span); ok {
		lc = lc.Str("parent", parent.name)
		for k, v := range parent.attrs {
			merged[k] = v
		}
	}
	for k, v := range attrs {
		merged[k] = v
	}
	for k, v := range merged {
		lc = lc.Interface(k, v)
	}
	s := span{name: name, attrs: merged, logger: lc.Logger()}

	start := time.Now()
	s.logger.Debug().Str("event", "span_start").Msg("span started")

	finish := func(err error) {
		e := s.logger.Debug()
		if err != nil {
			e = s.logger.Warn().Err(err)
		}
		e.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("span finished")
	}

	return context.WithValue(ctx, spanKey{}, s), finish
}

// Event logs name with attrs under the current span, if any.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if s, ok := ctx.Value(spanKey{}).(span); ok {
		logger = s.logger
	}

	e := logger.Info().Str("event", name)
	for k, v := range attrs {
		e = e.Interface(k, v)
	}
	e.Msg(name)
}

var _ ports.Tracer = (*ZerologTracer)(nil)
