package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recollect/internal/extract"
	"github.com/scrypster/recollect/internal/similarity"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// Memory creation outcomes.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
)

// AddMemoryResult describes the entry written by AddMemory.
type AddMemoryResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"` // created or updated
	Version    int    `json:"version"`
	ParentID   string `json:"parent_id,omitempty"`
	DocumentID string `json:"document_id"`
}

// versionedWrite is one memory about to be committed together with the
// records that must land in the same transaction.
type versionedWrite struct {
	space     *types.Space
	content   string // plaintext
	embedding []float32
	source    string
	document  *types.Document // backing document created with the memory, optional
	linkTo    string          // document the memory is linked to
}

// AddMemory stores text as a memory in spaceID. When an active memory in the
// space is similar enough, the new entry becomes its next version and the
// parent is superseded in the same transaction. A backing document and a
// source link are written alongside.
func (e *Engine) AddMemory(ctx context.Context, spaceID, text string) (*AddMemoryResult, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: memory text is required", storage.ErrInvalidInput)
	}

	space, err := e.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}

	doc, err := e.syntheticDocument(space, text)
	if err != nil {
		return nil, err
	}

	m, err := e.commitVersioned(ctx, versionedWrite{
		space:     space,
		content:   text,
		embedding: vec,
		source:    types.SourceMemory,
		document:  doc,
		linkTo:    doc.ID,
	})
	if err != nil {
		return nil, err
	}

	status := StatusCreated
	if m.ParentID != "" {
		status = StatusUpdated
	}
	e.logger.Info("memory added", "memory", m.ID, "space", space.ID, "status", status, "version", m.Version)

	return &AddMemoryResult{
		ID:         m.ID,
		Status:     status,
		Version:    m.Version,
		ParentID:   m.ParentID,
		DocumentID: doc.ID,
	}, nil
}

// syntheticDocument builds the finished document that backs a directly
// added memory.
func (e *Engine) syntheticDocument(space *types.Space, text string) (*types.Document, error) {
	title, err := e.encrypt(syntheticTitle(text), space.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("encrypt title: %w", err)
	}
	content, err := e.encrypt(text, space.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	now := time.Now().UTC()
	return &types.Document{
		ID:         newID(),
		SpaceID:    space.ID,
		OrgID:      space.OrgID,
		UploaderID: space.OwnerID,
		Source:     types.SourceMemory,
		Status:     types.DocumentDone,
		Type:       extract.TypeText,
		Content:    content,
		Title:      title,
		ProcessingSteps: []types.ProcessingStep{
			{Name: string(types.DocumentDone), StartTime: &now, EndTime: &now, Status: types.StepCompleted, FinalStatus: types.DocumentDone},
		},
	}, nil
}

// commitVersioned picks the primary parent among the versioning candidates
// and commits the new entry. Only the best-scoring parent is used; further
// candidates above the threshold are ignored.
func (e *Engine) commitVersioned(ctx context.Context, w versionedWrite) (*types.MemoryEntry, error) {
	parent, score, err := e.primaryParent(ctx, w.space.ID, w.embedding)
	if err != nil {
		return nil, err
	}

	content, err := e.encrypt(w.content, w.space.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("encrypt memory: %w", err)
	}

	m := &types.MemoryEntry{
		ID:             newID(),
		SpaceID:        w.space.ID,
		OrgID:          w.space.OrgID,
		OwnerKey:       w.space.OwnerID,
		Content:        content,
		Embedding:      w.embedding,
		EmbeddingModel: e.embedder.GetModel(),
		Version:        1,
		Lifecycle:      types.LifecycleActive,
		Source:         w.source,
	}

	commit := storage.MemoryCommit{Memory: m, Document: w.document}
	if parent != nil {
		m.Version = parent.Version + 1
		m.ParentID = parent.ID
		m.RootID = parent.LineageRoot()
		m.Relations = map[string]types.RelationKind{parent.ID: types.RelationUpdates}
		commit.SupersedeID = parent.ID
		e.logger.Debug("memory updates existing entry", "parent", parent.ID, "score", score, "version", m.Version)
	}
	if w.linkTo != "" {
		commit.Link = types.NewSourceLink(m.ID, w.linkTo, types.MaxRelevance, map[string]interface{}{"source": w.source})
	}

	if err := e.store.CommitMemory(ctx, commit); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			e.logger.Warn("parent memory changed during commit", "parent", commit.SupersedeID)
		}
		return nil, fmt.Errorf("commit memory: %w", err)
	}
	return m, nil
}

// primaryParent returns the best active memory scoring at or above the
// versioning threshold, or nil.
func (e *Engine) primaryParent(ctx context.Context, spaceID string, vec []float32) (*types.MemoryEntry, float64, error) {
	candidates, err := e.store.ListCandidates(ctx, storage.CandidateQuery{
		SpaceID: spaceID,
		Limit:   e.config.VersioningCandidateWindow,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list versioning candidates: %w", err)
	}

	parents := similarity.Rank(vec, candidates, memoryEmbedding, similarity.Options{
		MinScore:   e.config.VersioningMinSimilarity,
		TopK:       e.config.VersioningMaxParents,
		OnMismatch: e.warnMismatch(candidates),
	})
	if len(parents) == 0 {
		return nil, 0, nil
	}
	return parents[0].Item, parents[0].Score, nil
}

func (e *Engine) warnMismatch(candidates []*types.MemoryEntry) func(index, got, want int) {
	return func(index, got, want int) {
		e.logger.Warn("skipping memory with mismatched embedding dimension",
			"memory", candidates[index].ID, "got", got, "want", want)
	}
}

func memoryEmbedding(m *types.MemoryEntry) []float32 { return m.Embedding }

func newID() string { return uuid.NewString() }
