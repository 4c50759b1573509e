package llm

import "fmt"

// MaxEssentialsInput caps the document text sent to the extractor, in runes.
const MaxEssentialsInput = 15000

// EssentialsPrompt asks for title, summary and standalone memory facts as
// strict JSON.
func EssentialsPrompt(content string) string {
	return fmt.Sprintf(`Read the document and extract its essentials. Return ONLY valid JSON, no markdown, no code blocks, no explanation.

Provide:
- title: short descriptive title, at most 12 words
- summary: 2-4 sentence summary of the whole document
- memories: array of up to 30 standalone facts worth remembering. Each fact is one self-contained sentence that makes sense without the document.

Document:
%s

Return ONLY JSON object, nothing else, no markdown:
{"title":"...","summary":"...","memories":["...","..."]}`, content)
}

// TitleSummaryPrompt is the reduced fallback prompt.
func TitleSummaryPrompt(content string) string {
	return fmt.Sprintf(`Give this document a title and a summary. Return ONLY valid JSON, no markdown, no code blocks, no explanation.

Provide:
- title: short descriptive title, at most 12 words
- summary: 2-3 sentence summary

Document:
%s

Return ONLY JSON object, nothing else, no markdown:
{"title":"...","summary":"..."}`, content)
}
