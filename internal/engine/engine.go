package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/scrypster/recollect/internal/blob"
	"github.com/scrypster/recollect/internal/encryption"
	"github.com/scrypster/recollect/internal/llm"
	"github.com/scrypster/recollect/internal/queue"
	"github.com/scrypster/recollect/internal/similarity"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

var (
	// ErrSpaceNotFound is returned when an operation names an unknown space.
	ErrSpaceNotFound = errors.New("space not found")

	// ErrEngineNotStarted is returned by write and search operations before
	// Start or after Shutdown.
	ErrEngineNotStarted = errors.New("engine not started")
)

// Deps are the collaborators the engine drives.
type Deps struct {
	Store     storage.Store
	Blobs     blob.Store
	Queue     queue.Queue
	Embedder  llm.EmbeddingGenerator
	Extractor llm.FactExtractor  // optional; nil degrades essentials to synthetic
	Encrypter encryption.Encrypter // optional; nil stores plaintext
	Observer  Observer             // optional
	Logger    *log.Logger          // optional
}

// Engine is the facade over ingestion, versioning and search.
type Engine struct {
	config Config

	store     storage.Store
	vectors   storage.VectorIndex // nil when the store cannot rank
	blobs     blob.Store
	queue     queue.Queue
	embedder  llm.EmbeddingGenerator
	extractor llm.FactExtractor
	enc       encryption.Encrypter
	observer  Observer
	sizer     similarity.RecallSizer
	logger    *log.Logger

	mu      sync.RWMutex
	started bool
}

// New validates cfg, wires the collaborators and subscribes the ingestion
// handler on the queue.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		config:    cfg,
		store:     deps.Store,
		blobs:     deps.Blobs,
		queue:     deps.Queue,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
		enc:       deps.Encrypter,
		observer:  deps.Observer,
		sizer:     similarity.DefaultRecallSizer(),
		logger:    deps.Logger,
	}
	if e.enc == nil {
		e.enc = encryption.Noop{}
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	e.logger = e.logger.WithPrefix("engine")

	if vi, ok := deps.Store.(storage.VectorIndex); ok {
		e.vectors = vi
	}

	if err := e.queue.Subscribe(JobIngestDocument, e.handleIngestJob); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", JobIngestDocument, err)
	}
	return e, nil
}

// Start starts queue delivery and re-enqueues documents left in the queued
// state by a previous run.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	e.logger.Info("starting engine")
	if err := e.queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	e.started = true

	if err := e.recoverQueued(ctx); err != nil {
		e.logger.Error("recovery of unfinished documents failed", "err", err)
	}
	return nil
}

// Open enables the engine's operations without starting queue delivery or
// recovery. Enqueued jobs are left for workers in other processes.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true
	return nil
}

// Shutdown stops the queue and waits for in-flight jobs or ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrEngineNotStarted
	}

	e.logger.Info("shutting down engine")
	e.started = false
	if err := e.queue.Close(ctx); err != nil {
		return fmt.Errorf("close queue: %w", err)
	}
	e.logger.Info("engine shut down")
	return nil
}

func (e *Engine) requireStarted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return ErrEngineNotStarted
	}
	return nil
}

// CreateSpace creates a partition owned by ownerID.
func (e *Engine) CreateSpace(ctx context.Context, ownerID, orgID, name string) (*types.Space, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", storage.ErrInvalidInput)
	}
	space := &types.Space{
		ID:      newID(),
		OrgID:   orgID,
		OwnerID: ownerID,
		Name:    name,
	}
	if err := e.store.CreateSpace(ctx, space); err != nil {
		return nil, err
	}
	return space, nil
}

// GetSpace returns the space or ErrSpaceNotFound.
func (e *Engine) GetSpace(ctx context.Context, id string) (*types.Space, error) {
	space, err := e.store.GetSpace(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return space, nil
}

// GetDocument returns a document with its title and summary decrypted.
func (e *Engine) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	space, err := e.GetSpace(ctx, doc.SpaceID)
	if err != nil {
		return nil, err
	}

	if doc.Title, err = e.decrypt(doc.Title, space.OwnerID); err != nil {
		return nil, fmt.Errorf("decrypt title: %w", err)
	}
	if doc.Summary, err = e.decrypt(doc.Summary, space.OwnerID); err != nil {
		return nil, fmt.Errorf("decrypt summary: %w", err)
	}
	if doc.Source == types.SourceMemory {
		if doc.Content, err = e.decrypt(doc.Content, space.OwnerID); err != nil {
			return nil, fmt.Errorf("decrypt content: %w", err)
		}
	}
	return doc, nil
}

// DocumentMemories returns the source links pointing at a document.
func (e *Engine) DocumentMemories(ctx context.Context, documentID string) ([]*types.SourceLink, error) {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return e.store.ListDocumentLinks(ctx, documentID)
}

// ForgetMemory moves a memory to the forgotten lifecycle. It never becomes
// active again and is excluded from search and versioning.
func (e *Engine) ForgetMemory(ctx context.Context, id string) error {
	if err := e.store.ForgetMemory(ctx, id); err != nil {
		return err
	}
	e.logger.Info("memory forgotten", "memory", id)
	return nil
}

// MemoryHistory returns the lineage containing id, root first.
func (e *Engine) MemoryHistory(ctx context.Context, id string) ([]*types.MemoryEntry, error) {
	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	lineage, err := e.store.ListLineage(ctx, m.LineageRoot())
	if err != nil {
		return nil, err
	}

	out := make([]*types.MemoryEntry, 0, len(lineage))
	for _, entry := range lineage {
		if err := e.decryptMemory(entry); err != nil {
			e.logger.Warn("skipping undecryptable lineage entry", "memory", entry.ID, "err", err)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *Engine) encrypt(s, ownerKey string) (string, error) {
	if s == "" {
		return s, nil
	}
	return e.enc.Encrypt(s, ownerKey)
}

func (e *Engine) decrypt(s, ownerKey string) (string, error) {
	if s == "" || !e.enc.IsEncrypted(s) {
		return s, nil
	}
	return e.enc.Decrypt(s, ownerKey)
}

func (e *Engine) decryptMemory(m *types.MemoryEntry) error {
	content, err := e.decrypt(m.Content, m.OwnerKey)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}
