// Package llm holds the clients for the model collaborators: text
// completion, embeddings and the document essentials extractor built on
// top of completion.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyEssentials is returned when a model answer lacks a required field.
var ErrEmptyEssentials = errors.New("essentials response missing required fields")

// TextGenerator is the interface for LLM text completion.
// All prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator maps text to fixed-length vectors. Every vector
// returned for one model has the same dimension. Failures return no
// partial results.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
}

// Essentials is the structured summary of a document.
type Essentials struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Memories []string `json:"memories"`
}

// FactExtractor produces document essentials. ExtractEssentials asks for
// title, summary and memory facts; GenerateTitleSummary is the simpler
// fallback that only asks for title and summary.
type FactExtractor interface {
	ExtractEssentials(ctx context.Context, text string) (*Essentials, error)
	GenerateTitleSummary(ctx context.Context, text string) (*Essentials, error)
}
