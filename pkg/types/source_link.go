package types

import "time"

// Relevance bounds for a memory-document source link.
const (
	MinRelevance = 0
	MaxRelevance = 100
)

// SourceLink associates a memory entry with the document it was derived from
// or is backed by.
type SourceLink struct {
	MemoryID   string                 `json:"memory_id"`
	DocumentID string                 `json:"document_id"`
	Relevance  int                    `json:"relevance"` // 0-100
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewSourceLink builds a link with the relevance clamped to [0,100].
func NewSourceLink(memoryID, documentID string, relevance int, metadata map[string]interface{}) *SourceLink {
	return &SourceLink{
		MemoryID:   memoryID,
		DocumentID: documentID,
		Relevance:  ClampRelevance(relevance),
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// ClampRelevance clamps a relevance score to [MinRelevance, MaxRelevance].
func ClampRelevance(r int) int {
	if r < MinRelevance {
		return MinRelevance
	}
	if r > MaxRelevance {
		return MaxRelevance
	}
	return r
}
