package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient runs local inference through the Ollama API client. Every
// call goes through the circuit breaker.
type OllamaClient struct {
	api            *api.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name used for completions or embeddings (default: qwen2.5:7b)
	Model string

	// Timeout bounds each request (default: 120s)
	Timeout time.Duration
}

// ollamaEmbedBatch bounds the inputs sent in one embed call.
const ollamaEmbedBatch = 64

// jsonFormat asks Ollama to constrain generation to a JSON value.
var jsonFormat = json.RawMessage(`"json"`)

// NewOllamaClient creates a new Ollama client, applying defaults for unset
// fields.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL %q", config.BaseURL)
	}

	return &OllamaClient{
		api:            api.NewClient(base, &http.Client{Timeout: config.Timeout}),
		circuitBreaker: NewCircuitBreaker("ollama"),
		model:          config.Model,
		timeout:        config.Timeout,
	}, nil
}

// Complete sends a non-streaming generate request in JSON mode and returns
// the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := guarded(ctx, c.circuitBreaker, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		stream := false
		var b strings.Builder
		err := c.api.Generate(ctx, &api.GenerateRequest{
			Model:   c.model,
			Prompt:  prompt,
			Stream:  &stream,
			Format:  jsonFormat,
			Options: map[string]any{"temperature": 0},
		}, func(resp api.GenerateResponse) error {
			b.WriteString(resp.Response)
			return nil
		})
		return b.String(), err
	})
	if err != nil {
		return "", fmt.Errorf("ollama complete: %w", err)
	}
	return out, nil
}

// Embed generates the embedding of a single text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most ollamaEmbedBatch inputs.
// The result has one vector per input, in order; any failed request fails
// the whole call.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaEmbedBatch {
		batch := texts[start:min(start+ollamaEmbedBatch, len(texts))]
		vecs, err := guarded(ctx, c.circuitBreaker, func(ctx context.Context) ([][]float32, error) {
			return c.embed(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *OllamaClient) embed(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(batch))
	}
	for i, v := range resp.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
	}
	return resp.Embeddings, nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)
