package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON returns the first complete JSON object embedded in a model
// answer. Models wrap JSON in code fences or prose despite instructions.
// When no object decodes, the trimmed text is returned so the caller's
// decoder reports the error.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var obj json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&obj); err == nil && len(obj) > 0 && obj[0] == '{' {
			return string(obj)
		}
	}
	return text
}

// ParseEssentials decodes a full essentials answer. Title and summary are
// required; blank memories are dropped.
func ParseEssentials(raw string) (*Essentials, error) {
	var e Essentials
	if err := json.Unmarshal([]byte(extractJSON(raw)), &e); err != nil {
		return nil, fmt.Errorf("failed to parse essentials: %w", err)
	}

	e.Title = strings.TrimSpace(e.Title)
	e.Summary = strings.TrimSpace(e.Summary)
	if e.Title == "" || e.Summary == "" {
		return nil, ErrEmptyEssentials
	}

	memories := make([]string, 0, len(e.Memories))
	for _, m := range e.Memories {
		if m = strings.TrimSpace(m); m != "" {
			memories = append(memories, m)
		}
	}
	e.Memories = memories
	return &e, nil
}

// ParseTitleSummary decodes the fallback answer. Memories are ignored.
func ParseTitleSummary(raw string) (*Essentials, error) {
	e, err := ParseEssentials(raw)
	if err != nil {
		return nil, err
	}
	e.Memories = nil
	return e, nil
}
