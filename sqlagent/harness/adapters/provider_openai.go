package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// OpenAIProvider implements Provider against an OpenAI-compatible chat completions API.
// Works with Fireworks, OpenAI, Together AI and local servers exposing /v1.
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIProvider creates a provider. An empty baseURL targets Fireworks.
func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = sqlagent.DefaultLLMBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the prompt as one chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	payload := chatRequest{
		Model:       p.model,
		MaxTokens:   opts.MaxNewTokens,
		Temperature: opts.Temperature,
		Stop:        opts.Stop,
	}
	if in.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ports.Completion{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return ports.Completion{}, statusError(resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return ports.Completion{}, fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("no choices in response")
	}

	completion := ports.Completion{
		Text: parsed.Choices[0].Message.Content,
		Raw:  parsed,
	}
	if u := parsed.Usage; u != nil {
		completion.Usage = &ports.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return completion, nil
}

// statusError maps an HTTP failure onto the fatal sentinels where retrying is pointless.
// Server-side failures, gateway errors included, stay recoverable: the endpoint answered.
func statusError(status int, msg string) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: API returned status %d: %s", sqlagent.ErrAuthentication, status, msg)
	}
	return fmt.Errorf("API returned status %d: %s", status, msg)
}

// classifyTransportError marks unreachable endpoints as connectivity failures.
// Caller cancellation and client timeouts are left unmarked.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("request aborted: %w", ctxErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", sqlagent.ErrConnectivity, err)
	}
	return fmt.Errorf("failed to call API: %w", err)
}

var _ ports.Provider = (*OpenAIProvider)(nil)
