// Package engine drives documents through the ingestion pipeline and owns
// the versioned memory store: adding memories, searching and recalling
// them, and tracing their lineage.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/recollect/internal/chunker"
	"github.com/scrypster/recollect/internal/config"
)

// Config holds the engine tunables. It is built once at startup and never
// changes afterwards.
type Config struct {
	// SearchTopK is the default result cap of Search (default: 10, max: 50).
	SearchTopK int

	// SearchMinSimilarity drops search candidates scoring below it (default: 0.2).
	SearchMinSimilarity float64

	// SearchCandidateWindow is how many recent entries Search scores (default: 25).
	SearchCandidateWindow int

	// VersioningMinSimilarity is the score at which a new memory updates an
	// existing one instead of starting a lineage (default: 0.75).
	VersioningMinSimilarity float64

	// VersioningMaxParents bounds the parent candidates considered (default: 1, max: 5).
	VersioningMaxParents int

	// VersioningCandidateWindow is how many recent entries versioning scores (default: 50).
	VersioningCandidateWindow int

	// Chunking configures the semantic chunker.
	Chunking chunker.Options

	// EssentialsInputLimit caps the text sent to the fact extractor, in runes (default: 15000).
	EssentialsInputLimit int

	// MaxDocumentMemories caps the memories created per document (default: 30).
	MaxDocumentMemories int

	// MinMemoryLength drops extracted memories of this many runes or fewer (default: 10).
	MinMemoryLength int

	// MemoryBatchSize is how many extracted memories are persisted concurrently (default: 3).
	MemoryBatchSize int

	// MemoryBatchDelay spaces consecutive memory batches (default: 250ms).
	MemoryBatchDelay time.Duration

	// EmbedConcurrency bounds concurrent chunk embedding writes (default: 4).
	EmbedConcurrency int

	// RecoveryBatchSize is the number of queued documents re-enqueued on Start (default: 1000).
	RecoveryBatchSize int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		SearchTopK:                10,
		SearchMinSimilarity:       0.2,
		SearchCandidateWindow:     25,
		VersioningMinSimilarity:   0.75,
		VersioningMaxParents:      1,
		VersioningCandidateWindow: 50,
		Chunking:                  chunker.DefaultOptions(),
		EssentialsInputLimit:      15000,
		MaxDocumentMemories:       30,
		MinMemoryLength:           10,
		MemoryBatchSize:           3,
		MemoryBatchDelay:          250 * time.Millisecond,
		EmbedConcurrency:          4,
		RecoveryBatchSize:         1000,
	}
}

// ConfigFrom maps the application configuration onto engine tunables.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.SearchTopK = cfg.Search.TopK
	c.SearchMinSimilarity = cfg.Search.MinSimilarity
	c.VersioningMinSimilarity = cfg.Versioning.MinSimilarity
	c.VersioningMaxParents = cfg.Versioning.MaxParents
	c.Chunking = chunker.Options{
		TargetSize:   cfg.Chunking.TargetSize,
		Overlap:      cfg.Chunking.Overlap,
		MaxChunkSize: cfg.Chunking.MaxSize,
		MinChunkSize: cfg.Chunking.MinSize,
	}
	return c
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.SearchTopK < 1 || c.SearchTopK > config.MaxSearchTopK {
		return fmt.Errorf("SearchTopK must be in [1,%d], got %d", config.MaxSearchTopK, c.SearchTopK)
	}
	if c.SearchMinSimilarity < 0 || c.SearchMinSimilarity > 1 {
		return fmt.Errorf("SearchMinSimilarity must be in [0,1], got %v", c.SearchMinSimilarity)
	}
	if c.SearchCandidateWindow < 1 {
		return fmt.Errorf("SearchCandidateWindow must be >= 1, got %d", c.SearchCandidateWindow)
	}
	if c.VersioningMinSimilarity < 0 || c.VersioningMinSimilarity > 1 {
		return fmt.Errorf("VersioningMinSimilarity must be in [0,1], got %v", c.VersioningMinSimilarity)
	}
	if c.VersioningMaxParents < 1 || c.VersioningMaxParents > config.MaxVersioningParents {
		return fmt.Errorf("VersioningMaxParents must be in [1,%d], got %d", config.MaxVersioningParents, c.VersioningMaxParents)
	}
	if c.VersioningCandidateWindow < 1 {
		return fmt.Errorf("VersioningCandidateWindow must be >= 1, got %d", c.VersioningCandidateWindow)
	}
	if c.EssentialsInputLimit < 1 {
		return fmt.Errorf("EssentialsInputLimit must be >= 1, got %d", c.EssentialsInputLimit)
	}
	if c.MaxDocumentMemories < 1 {
		return fmt.Errorf("MaxDocumentMemories must be >= 1, got %d", c.MaxDocumentMemories)
	}
	if c.MinMemoryLength < 0 {
		return fmt.Errorf("MinMemoryLength must be >= 0, got %d", c.MinMemoryLength)
	}
	if c.MemoryBatchSize < 1 {
		return fmt.Errorf("MemoryBatchSize must be >= 1, got %d", c.MemoryBatchSize)
	}
	if c.MemoryBatchDelay < 0 {
		return fmt.Errorf("MemoryBatchDelay must be >= 0, got %v", c.MemoryBatchDelay)
	}
	if c.EmbedConcurrency < 1 {
		return fmt.Errorf("EmbedConcurrency must be >= 1, got %d", c.EmbedConcurrency)
	}
	if c.RecoveryBatchSize < 1 {
		return fmt.Errorf("RecoveryBatchSize must be >= 1, got %d", c.RecoveryBatchSize)
	}
	return nil
}
