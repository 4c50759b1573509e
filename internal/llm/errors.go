package llm

import (
	"context"
	"errors"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
)

// StatusCode returns the HTTP status of a provider API error, if err
// carries one.
func StatusCode(err error) (int, bool) {
	var ollamaErr api.StatusError
	if errors.As(err, &ollamaErr) {
		return ollamaErr.StatusCode, true
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	return 0, false
}

// countsAsFailure decides whether err should count toward opening a circuit.
// Only rate limiting and server errors do among HTTP answers; rejected
// requests and caller cancellation say nothing about the provider's health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code, ok := StatusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}
