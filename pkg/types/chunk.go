package types

import "time"

// Chunk is a contiguous slice of a document's text prepared for embedding.
// Positions of a document's chunks are dense and 0-based.
type Chunk struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	Position       int       `json:"position"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"embedding,omitempty"` // nil until the embedding step stores it
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
