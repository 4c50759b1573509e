// Package types defines the core data structures for the Recollect memory system.
// These types represent spaces, ingested documents and their chunks, versioned
// memory entries, and the links that tie memories back to their source documents.
package types

// DocumentStatus represents the lifecycle status of an ingested document.
// While a document is being processed the status equals the name of the
// most recently started pipeline step.
type DocumentStatus string

// Document status constants, in pipeline order.
const (
	// DocumentQueued indicates the document is waiting for a worker.
	DocumentQueued DocumentStatus = "queued"

	// DocumentExtracting indicates raw bytes are being converted to text.
	DocumentExtracting DocumentStatus = "extracting"

	// DocumentChunking indicates extracted text is being split into chunks.
	DocumentChunking DocumentStatus = "chunking"

	// DocumentEmbedding indicates chunk embeddings are being generated.
	DocumentEmbedding DocumentStatus = "embedding"

	// DocumentExtractingEssentials indicates title, summary and memory facts
	// are being extracted.
	DocumentExtractingEssentials DocumentStatus = "extract_document_essentials"

	// DocumentDone is terminal: every step completed.
	DocumentDone DocumentStatus = "done"

	// DocumentFailed is terminal: a step aborted the job.
	DocumentFailed DocumentStatus = "failed"
)

// IsTerminal reports whether no further pipeline step will run for the status.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentDone || s == DocumentFailed
}

// StepStatus is the outcome recorded on a processing step log entry.
type StepStatus string

// Step status constants
const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// RelationKind names how one memory entry relates to another.
type RelationKind string

// RelationUpdates marks the entry as a newer version of the related memory.
const RelationUpdates RelationKind = "updates"

// Document source constants
const (
	// SourceUpload marks a document created from uploaded bytes.
	SourceUpload = "upload"

	// SourceMemory marks the synthetic backing document of a directly added memory.
	SourceMemory = "memory"
)
