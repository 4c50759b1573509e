package llm

import (
	"context"
	"fmt"
)

// GeneratorExtractor implements FactExtractor with prompts sent to a
// TextGenerator.
type GeneratorExtractor struct {
	gen TextGenerator
}

// NewGeneratorExtractor wraps gen.
func NewGeneratorExtractor(gen TextGenerator) *GeneratorExtractor {
	return &GeneratorExtractor{gen: gen}
}

// ExtractEssentials requests title, summary and memory facts.
func (x *GeneratorExtractor) ExtractEssentials(ctx context.Context, text string) (*Essentials, error) {
	raw, err := x.gen.Complete(ctx, EssentialsPrompt(TruncateRunes(text, MaxEssentialsInput)))
	if err != nil {
		return nil, fmt.Errorf("essentials completion: %w", err)
	}
	return ParseEssentials(raw)
}

// GenerateTitleSummary requests only title and summary.
func (x *GeneratorExtractor) GenerateTitleSummary(ctx context.Context, text string) (*Essentials, error) {
	raw, err := x.gen.Complete(ctx, TitleSummaryPrompt(TruncateRunes(text, MaxEssentialsInput)))
	if err != nil {
		return nil, fmt.Errorf("title completion: %w", err)
	}
	return ParseTitleSummary(raw)
}

// TruncateRunes returns the first n runes of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

var _ FactExtractor = (*GeneratorExtractor)(nil)
