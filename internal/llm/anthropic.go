package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicMaxTokens = 4096
	anthropicSystem    = "You extract structured facts from documents. Answer with a single JSON object and nothing else."
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	Model   string        // default: claude-3-5-sonnet-20241022
	BaseURL string        // optional, for proxies and tests
	Timeout time.Duration // default: 60s
}

// AnthropicClient completes prompts through the Messages API. Anthropic
// offers no embeddings, so it only serves as a TextGenerator.
type AnthropicClient struct {
	api            anthropic.Client
	model          string
	circuitBreaker *CircuitBreaker
}

// NewAnthropicClient creates a client, applying defaults for unset fields.
// The SDK does not retry; the job queue and the circuit breaker own that.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	return &AnthropicClient{
		api:            anthropic.NewClient(opts...),
		model:          cfg.Model,
		circuitBreaker: NewCircuitBreaker("anthropic"),
	}
}

var errTruncated = errors.New("answer truncated at max_tokens")

// Complete sends the prompt as a single user turn and returns the joined
// text blocks of the answer.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := guarded(ctx, c.circuitBreaker, func(ctx context.Context) (string, error) {
		msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.model),
			MaxTokens:   anthropicMaxTokens,
			System:      []anthropic.TextBlockParam{{Text: anthropicSystem}},
			Temperature: anthropic.Float(0),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", err
		}
		return messageText(msg)
	})
	if err != nil {
		return "", fmt.Errorf("anthropic complete: %w", err)
	}
	return out, nil
}

func messageText(msg *anthropic.Message) (string, error) {
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		return "", errTruncated
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("answer has no text content")
	}
	return b.String(), nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

var _ TextGenerator = (*AnthropicClient)(nil)
