package harnessports

import (
	"context"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // instructions, tool catalog and output format
	Messages []PromptMessage   // question followed by the rendered scratchpad
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling and limits for one model call.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	Stop         []string
	// TimeoutMs applies to the provider call only (not the run deadline)
	TimeoutMs int
}

// Usage captures token accounting for telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's response. Text is free-form; structure is imposed by the parser.
type Completion struct {
	Text  string
	Raw   any    // raw provider payload for debugging
	Usage *Usage // optional usage information
}

// Provider is the abstraction for all LLM backends.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
