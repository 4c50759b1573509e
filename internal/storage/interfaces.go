// Package storage provides composable persistence interfaces for Recollect.
//
// Interfaces are small and focused so that backends can implement them
// independently. Two operations must be atomic in every backend:
// ReplaceChunks and CommitMemory.
package storage

import (
	"context"

	"github.com/scrypster/recollect/pkg/types"
)

// SpaceStore persists spaces.
type SpaceStore interface {
	// CreateSpace inserts a new space.
	CreateSpace(ctx context.Context, space *types.Space) error

	// GetSpace retrieves a space by ID.
	// Returns ErrNotFound if the space doesn't exist.
	GetSpace(ctx context.Context, id string) (*types.Space, error)
}

// DocumentStore persists documents and their append-only step log.
type DocumentStore interface {
	// CreateDocument inserts a new document.
	CreateDocument(ctx context.Context, doc *types.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*types.Document, error)

	// AppendProcessingStep appends step to the document's log. When status is
	// non-empty the document status is set in the same write.
	AppendProcessingStep(ctx context.Context, id string, status types.DocumentStatus, step types.ProcessingStep) error

	// UpdateDocumentContent stores extracted text and its normalized type and
	// clears the raw payload key.
	UpdateDocumentContent(ctx context.Context, id, content, docType string) error

	// UpdateDocumentEssentials stores the title, summary and summary embedding.
	UpdateDocumentEssentials(ctx context.Context, id string, update EssentialsUpdate) error

	// ListDocumentsByStatus returns up to limit documents in the given status,
	// oldest first, after skipping offset of them.
	ListDocumentsByStatus(ctx context.Context, status types.DocumentStatus, limit, offset int) ([]*types.Document, error)
}

// ChunkStore persists document chunks.
type ChunkStore interface {
	// ReplaceChunks deletes every chunk of the document, inserts chunks, and
	// updates the document's chunk count and average chunk size, all in one
	// transaction.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*types.Chunk) error

	// ListChunks returns the document's chunks ordered by position.
	ListChunks(ctx context.Context, documentID string) ([]*types.Chunk, error)

	// UpdateChunkEmbedding stores the embedding of a single chunk.
	// Returns ErrNotFound if the chunk doesn't exist.
	UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error
}

// MemoryStore persists versioned memory entries and their source links.
type MemoryStore interface {
	// GetMemory retrieves a memory entry by ID.
	// Returns ErrNotFound if the entry doesn't exist.
	GetMemory(ctx context.Context, id string) (*types.MemoryEntry, error)

	// ListCandidates returns active entries with an embedding, newest first.
	// Entries whose stored vector cannot be decoded are skipped.
	ListCandidates(ctx context.Context, q CandidateQuery) ([]*types.MemoryEntry, error)

	// CommitMemory applies a MemoryCommit atomically.
	// Returns ErrConflict if SupersedeID is set and that entry is no longer active.
	CommitMemory(ctx context.Context, c MemoryCommit) error

	// ForgetMemory moves an entry to the forgotten lifecycle.
	// Returns ErrNotFound if the entry doesn't exist. Forgetting a forgotten
	// entry is a no-op.
	ForgetMemory(ctx context.Context, id string) error

	// ListLineage returns the root entry and every entry whose root is rootID,
	// ordered by version.
	ListLineage(ctx context.Context, rootID string) ([]*types.MemoryEntry, error)

	// ListDocumentLinks returns the source links of a document, newest first.
	ListDocumentLinks(ctx context.Context, documentID string) ([]*types.SourceLink, error)
}

// VectorIndex is implemented by backends that can answer approximate
// nearest-neighbour queries over memory embeddings. It only widens the
// candidate set; ranking stays with the caller.
type VectorIndex interface {
	NearestMemories(ctx context.Context, spaceID string, query []float32, limit int) ([]*types.MemoryEntry, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	SpaceStore
	DocumentStore
	ChunkStore
	MemoryStore

	// Close releases the underlying connections.
	Close() error
}
