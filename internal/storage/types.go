package storage

import (
	"errors"
	"fmt"

	"github.com/scrypster/recollect/pkg/types"
)

// Standard errors returned by storage implementations.
var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that a concurrent writer changed the row first,
	// for example a parent memory was superseded by someone else.
	ErrConflict = errors.New("conflict")
)

// EssentialsUpdate carries the outputs of the essentials step.
type EssentialsUpdate struct {
	Title            string
	Summary          string
	SummaryEmbedding []float32 // nil leaves the stored embedding untouched
	EmbeddingModel   string
}

// CandidateQuery bounds a candidate window read.
type CandidateQuery struct {
	SpaceID string
	Limit   int // Most recent N by creation time
}

// DefaultCandidateLimit applies when CandidateQuery.Limit is not positive.
const DefaultCandidateLimit = 50

// MemoryCommit is one atomic memory write: optionally supersede a parent,
// insert the new entry, optionally insert a backing document and a source
// link.
type MemoryCommit struct {
	Memory      *types.MemoryEntry
	SupersedeID string
	Document    *types.Document
	Link        *types.SourceLink
}

// Validate checks the commit is internally consistent.
func (c MemoryCommit) Validate() error {
	if c.Memory == nil || c.Memory.ID == "" {
		return fmt.Errorf("%w: memory with ID is required", ErrInvalidInput)
	}
	if c.Memory.Content == "" {
		return fmt.Errorf("%w: memory content is required", ErrInvalidInput)
	}
	if c.Memory.SpaceID == "" {
		return fmt.Errorf("%w: memory space is required", ErrInvalidInput)
	}
	if !c.Memory.Lifecycle.IsValid() {
		return fmt.Errorf("%w: memory lifecycle is invalid", ErrInvalidInput)
	}
	if c.SupersedeID != "" && c.SupersedeID == c.Memory.ID {
		return fmt.Errorf("%w: memory cannot supersede itself", ErrInvalidInput)
	}
	if c.Link != nil && c.Link.MemoryID != c.Memory.ID {
		return fmt.Errorf("%w: link must reference the committed memory", ErrInvalidInput)
	}
	return nil
}
