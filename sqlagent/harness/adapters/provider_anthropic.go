package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicProvider implements Provider with the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a provider. baseURL is optional.
func NewAnthropicProvider(apiKey, baseURL, model string, timeout time.Duration) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Complete sends the prompt as a single Messages call.
func (p *AnthropicProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	maxTokens := int64(opts.MaxNewTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(float64(opts.Temperature)),
	}
	if in.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}
	// The API rejects whitespace-only stop sequences
	for _, s := range opts.Stop {
		if strings.TrimSpace(s) != "" {
			params.StopSequences = append(params.StopSequences, s)
		}
	}
	for _, m := range in.Messages {
		switch m.Role {
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return ports.Completion{}, fmt.Errorf("no messages to send")
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return ports.Completion{}, statusError(apiErr.StatusCode, apiErr.Error())
		}
		return ports.Completion{}, classifyTransportError(ctx, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return ports.Completion{
		Text: text.String(),
		Raw:  message,
		Usage: &ports.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

var _ ports.Provider = (*AnthropicProvider)(nil)
