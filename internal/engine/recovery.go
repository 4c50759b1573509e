package engine

import (
	"context"
	"fmt"

	"github.com/scrypster/recollect/pkg/types"
)

// recoverableStatuses are the non-terminal document states. A document in
// any of them either never reached a worker or was interrupted mid-step;
// every step is safe to run again.
var recoverableStatuses = []types.DocumentStatus{
	types.DocumentQueued,
	types.DocumentExtracting,
	types.DocumentChunking,
	types.DocumentEmbedding,
	types.DocumentExtractingEssentials,
}

// recoverQueued re-enqueues every document left in a non-terminal state,
// for example because the process stopped before an in-memory queue
// drained. All pages are collected before anything is enqueued so workers
// moving documents between states cannot shift the pagination.
func (e *Engine) recoverQueued(ctx context.Context) error {
	var pending []*types.Document
	for _, status := range recoverableStatuses {
		for offset := 0; ; offset += e.config.RecoveryBatchSize {
			page, err := e.store.ListDocumentsByStatus(ctx, status, e.config.RecoveryBatchSize, offset)
			if err != nil {
				return fmt.Errorf("list %s documents: %w", status, err)
			}
			pending = append(pending, page...)
			if len(page) < e.config.RecoveryBatchSize {
				break
			}
		}
	}
	if len(pending) == 0 {
		e.logger.Debug("no unfinished documents to recover")
		return nil
	}

	e.logger.Info("recovering unfinished documents", "count", len(pending))

	recovered := 0
	for _, doc := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.enqueueIngest(ctx, doc.ID); err != nil {
			e.logger.Warn("failed to re-enqueue document", "document", doc.ID, "status", doc.Status, "err", err)
			continue
		}
		recovered++
	}

	e.logger.Info("recovery complete", "recovered", recovered, "total", len(pending))
	return nil
}
