package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/recollect/internal/blob"
	"github.com/scrypster/recollect/internal/chunker"
	"github.com/scrypster/recollect/internal/extract"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// StepError reports the pipeline step that failed a document.
type StepError struct {
	DocumentID string
	Step       types.DocumentStatus
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("document %s: step %s: %v", e.DocumentID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// pipelineRun is the state shared by the steps of one ProcessDocument call.
type pipelineRun struct {
	doc    *types.Document
	space  *types.Space
	logger *log.Logger
}

type step struct {
	status types.DocumentStatus
	run    func(ctx context.Context, r *pipelineRun) error
}

func (e *Engine) steps() []step {
	return []step{
		{types.DocumentExtracting, e.extractStep},
		{types.DocumentChunking, e.chunkStep},
		{types.DocumentEmbedding, e.embedStep},
		{types.DocumentExtractingEssentials, e.essentialsStep},
	}
}

// ProcessDocument runs every pipeline step for a document in order. A step
// failure marks the document failed and is returned so the queue can retry;
// every step is safe to run again. Documents already done are skipped.
func (e *Engine) ProcessDocument(ctx context.Context, id string) error {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	logger := e.logger.With("document", doc.ID)

	if doc.Status == types.DocumentDone {
		logger.Debug("document already processed, skipping")
		return nil
	}
	if doc.Source != types.SourceUpload {
		logger.Debug("document backs a memory, nothing to process")
		return nil
	}

	space, err := e.store.GetSpace(ctx, doc.SpaceID)
	if err != nil {
		return fmt.Errorf("resolve space %s: %w", doc.SpaceID, err)
	}

	r := &pipelineRun{doc: doc, space: space, logger: logger}
	started := time.Now()
	logger.Info("processing document", "status", doc.Status)

	for _, s := range e.steps() {
		if err := e.runStep(ctx, r, s); err != nil {
			e.finish(ctx, r, types.DocumentFailed, err)
			return err
		}
	}

	e.finish(ctx, r, types.DocumentDone, nil)
	logger.Info("document processed", "chunks", r.doc.ChunkCount, "elapsed", time.Since(started))
	return nil
}

// runStep records the start of a step, runs it and records the outcome.
// The document status moves to the step name when the step starts.
func (e *Engine) runStep(ctx context.Context, r *pipelineRun, s step) error {
	name := string(s.status)

	start := time.Now().UTC()
	if err := e.store.AppendProcessingStep(ctx, r.doc.ID, s.status, types.ProcessingStep{
		Name:      name,
		StartTime: &start,
		Status:    types.StepPending,
	}); err != nil {
		return &StepError{DocumentID: r.doc.ID, Step: s.status, Err: fmt.Errorf("record step start: %w", err)}
	}
	r.doc.Status = s.status
	e.observer.StepEvent(newStepEvent(KindStepStarted, r.doc, name, s.status))
	r.logger.Debug("step started", "step", name)

	runErr := s.run(ctx, r)

	end := time.Now().UTC()
	entry := types.ProcessingStep{Name: name, EndTime: &end, Status: types.StepCompleted}
	if runErr != nil {
		entry.Status = types.StepFailed
		entry.Error = runErr.Error()
	}
	// Record the outcome even when ctx was cancelled mid-step.
	if err := e.store.AppendProcessingStep(context.WithoutCancel(ctx), r.doc.ID, "", entry); err != nil {
		r.logger.Error("failed to record step outcome", "step", name, "err", err)
		if runErr == nil {
			runErr = fmt.Errorf("record step outcome: %w", err)
		}
	}

	if runErr != nil {
		ev := newStepEvent(KindStepFailed, r.doc, name, s.status)
		ev.Error = runErr.Error()
		e.observer.StepEvent(ev)
		r.logger.Error("step failed", "step", name, "err", runErr)
		return &StepError{DocumentID: r.doc.ID, Step: s.status, Err: runErr}
	}

	e.observer.StepEvent(newStepEvent(KindStepCompleted, r.doc, name, s.status))
	r.logger.Debug("step completed", "step", name, "elapsed", end.Sub(start))
	return nil
}

// finish appends the terminal log entry and sets the final status.
func (e *Engine) finish(ctx context.Context, r *pipelineRun, final types.DocumentStatus, cause error) {
	now := time.Now().UTC()
	entry := types.ProcessingStep{
		Name:        string(final),
		EndTime:     &now,
		Status:      types.StepCompleted,
		FinalStatus: final,
	}
	if cause != nil {
		entry.Status = types.StepFailed
		entry.Error = cause.Error()
	}

	if err := e.store.AppendProcessingStep(context.WithoutCancel(ctx), r.doc.ID, final, entry); err != nil {
		r.logger.Error("failed to finalize document", "status", final, "err", err)
	}
	r.doc.Status = final

	ev := newStepEvent(KindFinished, r.doc, "", final)
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.observer.StepEvent(ev)
}

// extractStep turns the raw payload into text and drops the payload. On a
// rerun after the payload was consumed it keeps the stored content.
func (e *Engine) extractStep(ctx context.Context, r *pipelineRun) error {
	doc := r.doc
	if doc.RawKey == "" {
		if doc.Content != "" {
			r.logger.Debug("content already extracted")
			return nil
		}
		return fmt.Errorf("%w: document has neither payload nor content", storage.ErrInvalidInput)
	}

	data, err := e.blobs.Get(ctx, doc.RawKey)
	if errors.Is(err, blob.ErrNotFound) && doc.Content != "" {
		r.logger.Warn("raw payload missing, keeping extracted content", "key", doc.RawKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read raw payload: %w", err)
	}

	res, err := extract.Extract(data, doc.MIMEType)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if err := e.store.UpdateDocumentContent(ctx, doc.ID, res.Text, res.Type); err != nil {
		return fmt.Errorf("store content: %w", err)
	}

	key := doc.RawKey
	doc.Content, doc.Type, doc.RawKey = res.Text, res.Type, ""
	if err := e.blobs.Delete(ctx, key); err != nil {
		r.logger.Warn("failed to delete raw payload", "key", key, "err", err)
	}

	r.logger.Debug("text extracted", "type", res.Type, "chars", len([]rune(res.Text)))
	return nil
}

// chunkStep replaces the document's chunks with a fresh split of its content.
func (e *Engine) chunkStep(ctx context.Context, r *pipelineRun) error {
	doc := r.doc
	if strings.TrimSpace(doc.Content) == "" {
		r.logger.Warn("document has no content, skipping chunking")
		return nil
	}

	texts := chunker.Chunk(doc.Content, e.config.Chunking)
	chunks := make([]*types.Chunk, len(texts))
	total := 0
	for i, t := range texts {
		chunks[i] = &types.Chunk{
			ID:         newID(),
			DocumentID: doc.ID,
			Position:   i,
			Content:    t,
		}
		total += len([]rune(t))
	}

	if err := e.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}

	doc.ChunkCount = len(chunks)
	if len(chunks) > 0 {
		doc.AverageChunkSize = float64(total) / float64(len(chunks))
	}
	r.logger.Debug("document chunked", "chunks", len(chunks))
	return nil
}

// embedStep embeds every chunk in one batch request and stores the vectors
// concurrently. Chunks the embedder returned no vector for are skipped.
func (e *Engine) embedStep(ctx context.Context, r *pipelineRun) error {
	chunks, err := e.store.ListChunks(ctx, r.doc.ID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		r.logger.Debug("no chunks to embed")
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	model := e.embedder.GetModel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.EmbedConcurrency)

	skipped := 0
	for i, c := range chunks {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			r.logger.Warn("no embedding returned for chunk", "chunk", c.ID, "position", c.Position)
			skipped++
			continue
		}
		vec := vectors[i]
		g.Go(func() error {
			if err := e.store.UpdateChunkEmbedding(gctx, c.ID, vec, model); err != nil {
				return fmt.Errorf("store embedding of chunk %d: %w", c.Position, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.Debug("chunks embedded", "embedded", len(chunks)-skipped, "skipped", skipped)
	return nil
}
