package types

import "time"

// Document is a unit of ingested content.
type Document struct {
	ID         string         `json:"id"`
	SpaceID    string         `json:"space_id"`
	OrgID      string         `json:"org_id"`
	UploaderID string         `json:"uploader_id"`
	Source     string         `json:"source"` // upload or memory
	Status     DocumentStatus `json:"status"`

	// RawKey addresses the raw payload in the blob store. It is cleared once
	// extraction has persisted Content.
	RawKey   string `json:"raw_key,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Type     string `json:"type,omitempty"` // Normalized content type (pdf, text, markdown)
	Content  string `json:"content,omitempty"`

	// Title and Summary may be encrypted at rest with the space owner's key.
	Title            string    `json:"title,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	SummaryEmbedding []float32 `json:"summary_embedding,omitempty"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`

	ChunkCount       int     `json:"chunk_count"`
	AverageChunkSize float64 `json:"average_chunk_size"`

	// ProcessingSteps is append-only.
	ProcessingSteps []ProcessingStep `json:"processing_steps,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingStep is one entry of a document's step log. A step produces a
// start entry (StartTime, pending) followed by an end entry (EndTime,
// completed or failed). A job abort adds a terminal entry with FinalStatus.
type ProcessingStep struct {
	Name        string         `json:"name"`
	StartTime   *time.Time     `json:"start_time,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Status      StepStatus     `json:"status,omitempty"`
	FinalStatus DocumentStatus `json:"final_status,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// LastStep returns the most recent log entry, or nil when the log is empty.
func (d *Document) LastStep() *ProcessingStep {
	if len(d.ProcessingSteps) == 0 {
		return nil
	}
	return &d.ProcessingSteps[len(d.ProcessingSteps)-1]
}
