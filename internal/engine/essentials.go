package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/scrypster/recollect/internal/llm"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

const (
	untitledDocument  = "Untitled document"
	syntheticTitleLen = 80
	syntheticSummary  = 280
)

// essentialsStep derives title, summary and memory facts from the content.
// Model output problems degrade to simpler results and never fail the step;
// storage and embedding errors do.
func (e *Engine) essentialsStep(ctx context.Context, r *pipelineRun) error {
	doc := r.doc
	text := llm.TruncateRunes(doc.Content, e.config.EssentialsInputLimit)

	ess := e.documentEssentials(ctx, text, r.logger)
	memories := e.filterMemories(ess.Memories)

	// An uploader-supplied title is kept.
	title := doc.Title
	if title == "" {
		enc, err := e.encrypt(ess.Title, r.space.OwnerID)
		if err != nil {
			return fmt.Errorf("encrypt title: %w", err)
		}
		title = enc
	}
	summary, err := e.encrypt(ess.Summary, r.space.OwnerID)
	if err != nil {
		return fmt.Errorf("encrypt summary: %w", err)
	}

	update := storage.EssentialsUpdate{Title: title, Summary: summary}
	if ess.Summary != "" {
		vec, err := e.embedder.Embed(ctx, ess.Summary)
		if err != nil {
			r.logger.Warn("summary embedding failed", "err", err)
		} else {
			update.SummaryEmbedding = vec
			update.EmbeddingModel = e.embedder.GetModel()
		}
	}

	if err := e.store.UpdateDocumentEssentials(ctx, doc.ID, update); err != nil {
		return fmt.Errorf("store essentials: %w", err)
	}
	doc.Title, doc.Summary = update.Title, update.Summary

	if err := e.createDocumentMemories(ctx, r, memories); err != nil {
		return err
	}

	r.logger.Debug("essentials stored", "memories", len(memories))
	return nil
}

// documentEssentials walks the fallback chain: full extraction, then title
// and summary only, then a synthetic result built from the text itself.
func (e *Engine) documentEssentials(ctx context.Context, text string, logger *log.Logger) *llm.Essentials {
	if e.extractor == nil {
		return syntheticEssentials(text)
	}

	ess, err := e.extractor.ExtractEssentials(ctx, text)
	if err == nil && complete(ess) {
		return ess
	}
	logger.Warn("essentials extraction unusable, falling back to title and summary", "err", errOrIncomplete(err))

	ess, err = e.extractor.GenerateTitleSummary(ctx, text)
	if err == nil && complete(ess) {
		ess.Memories = nil
		return ess
	}
	logger.Warn("title and summary generation unusable, using synthetic essentials", "err", errOrIncomplete(err))

	return syntheticEssentials(text)
}

func complete(ess *llm.Essentials) bool {
	return ess != nil && strings.TrimSpace(ess.Title) != "" && strings.TrimSpace(ess.Summary) != ""
}

func errOrIncomplete(err error) error {
	if err != nil {
		return err
	}
	return llm.ErrEmptyEssentials
}

func syntheticEssentials(text string) *llm.Essentials {
	return &llm.Essentials{
		Title:   syntheticTitle(text),
		Summary: llm.TruncateRunes(strings.Join(strings.Fields(text), " "), syntheticSummary),
	}
}

// syntheticTitle is the first non-blank line, shortened.
func syntheticTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return llm.TruncateRunes(line, syntheticTitleLen)
		}
	}
	return untitledDocument
}

// filterMemories trims facts, drops short ones and caps the count.
func (e *Engine) filterMemories(facts []string) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if len([]rune(f)) <= e.config.MinMemoryLength {
			continue
		}
		out = append(out, f)
		if len(out) == e.config.MaxDocumentMemories {
			break
		}
	}
	return out
}

// createDocumentMemories embeds the facts in small concurrent batches and
// commits each through versioning, linked to the document. Batches are
// paced by a limiter. Commits run in order so facts in one batch see each
// other as versioning candidates.
func (e *Engine) createDocumentMemories(ctx context.Context, r *pipelineRun, facts []string) error {
	if len(facts) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(e.config.MemoryBatchDelay), 1)
	created := 0

	for start := 0; start < len(facts); start += e.config.MemoryBatchSize {
		batch := facts[start:min(start+e.config.MemoryBatchSize, len(facts))]

		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("memory batch pacing: %w", err)
		}

		vectors := make([][]float32, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, fact := range batch {
			g.Go(func() error {
				vec, err := e.embedder.Embed(gctx, fact)
				if err != nil {
					return fmt.Errorf("embed memory: %w", err)
				}
				vectors[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, fact := range batch {
			if _, err := e.commitVersioned(ctx, versionedWrite{
				space:     r.space,
				content:   fact,
				embedding: vectors[i],
				source:    types.SourceUpload,
				linkTo:    r.doc.ID,
			}); err != nil {
				return err
			}
			created++
		}
	}

	r.logger.Info("document memories created", "count", created)
	return nil
}
