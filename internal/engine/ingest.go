package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/recollect/internal/blob"
	"github.com/scrypster/recollect/internal/queue"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// JobIngestDocument is the queue job type that runs the ingestion pipeline.
const JobIngestDocument = "ingest_document"

// ingestPayload is the body of an ingest_document job.
type ingestPayload struct {
	DocumentID string `json:"document_id"`
}

// IngestRequest is an uploaded document.
type IngestRequest struct {
	SpaceID    string
	UploaderID string
	Title      string
	MIMEType   string
	Data       []byte
}

// IngestResult is the queued document and the job that will process it.
type IngestResult struct {
	Document *types.Document `json:"document"`
	JobID    string          `json:"job_id"`
}

// IngestDocument stores the raw payload, creates the document in the queued
// state and enqueues it for processing.
func (e *Engine) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: document payload is empty", storage.ErrInvalidInput)
	}

	space, err := e.GetSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}

	uploader := req.UploaderID
	if uploader == "" {
		uploader = space.OwnerID
	}

	title, err := e.encrypt(strings.TrimSpace(req.Title), space.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("encrypt title: %w", err)
	}

	doc := &types.Document{
		ID:         newID(),
		SpaceID:    space.ID,
		OrgID:      space.OrgID,
		UploaderID: uploader,
		Source:     types.SourceUpload,
		Status:     types.DocumentQueued,
		MIMEType:   req.MIMEType,
		Title:      title,
	}
	doc.RawKey = blob.Key(space.ID, doc.ID)

	if err := e.blobs.Put(ctx, doc.RawKey, req.Data, req.MIMEType); err != nil {
		return nil, fmt.Errorf("store raw payload: %w", err)
	}

	now := time.Now().UTC()
	doc.ProcessingSteps = []types.ProcessingStep{
		{Name: string(types.DocumentQueued), StartTime: &now, Status: types.StepPending},
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		if derr := e.blobs.Delete(ctx, doc.RawKey); derr != nil {
			e.logger.Warn("failed to remove orphaned payload", "key", doc.RawKey, "err", derr)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	jobID, err := e.enqueueIngest(ctx, doc.ID)
	if err != nil {
		// The document stays queued; recovery picks it up on the next start.
		return nil, err
	}

	e.logger.Info("document queued", "document", doc.ID, "space", space.ID, "bytes", len(req.Data), "job", jobID)
	e.observer.StepEvent(newStepEvent(KindQueued, doc, string(types.DocumentQueued), types.DocumentQueued))

	doc.Title = strings.TrimSpace(req.Title)
	return &IngestResult{Document: doc, JobID: jobID}, nil
}

// ReprocessDocument puts a finished or failed document back in the queue.
// The step log keeps its history; a new queued entry is appended.
func (e *Engine) ReprocessDocument(ctx context.Context, id string) (string, error) {
	if err := e.requireStarted(); err != nil {
		return "", err
	}

	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.Source != types.SourceUpload {
		return "", fmt.Errorf("%w: document %s backs a memory and has no pipeline", storage.ErrInvalidInput, id)
	}
	if !doc.Status.IsTerminal() && doc.Status != types.DocumentQueued {
		return "", fmt.Errorf("%w: document %s is %s", storage.ErrConflict, id, doc.Status)
	}

	now := time.Now().UTC()
	step := types.ProcessingStep{Name: string(types.DocumentQueued), StartTime: &now, Status: types.StepPending}
	if err := e.store.AppendProcessingStep(ctx, id, types.DocumentQueued, step); err != nil {
		return "", fmt.Errorf("requeue document: %w", err)
	}

	jobID, err := e.enqueueIngest(ctx, id)
	if err != nil {
		return "", err
	}

	e.logger.Info("document requeued", "document", id, "job", jobID)
	e.observer.StepEvent(newStepEvent(KindQueued, doc, string(types.DocumentQueued), types.DocumentQueued))
	return jobID, nil
}

func (e *Engine) enqueueIngest(ctx context.Context, documentID string) (string, error) {
	jobID, err := e.queue.Enqueue(ctx, JobIngestDocument, ingestPayload{DocumentID: documentID})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", JobIngestDocument, err)
	}
	return jobID, nil
}

// handleIngestJob is the queue handler. Jobs that can never succeed are
// acknowledged so the queue does not retry them.
func (e *Engine) handleIngestJob(ctx context.Context, job *queue.Job) error {
	var p ingestPayload
	if err := job.Decode(&p); err != nil {
		e.logger.Error("dropping malformed job", "job", job.ID, "err", err)
		return nil
	}
	if p.DocumentID == "" {
		e.logger.Error("dropping job without document id", "job", job.ID)
		return nil
	}

	err := e.ProcessDocument(ctx, p.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("dropping job for missing document", "job", job.ID, "document", p.DocumentID)
		return nil
	}
	return err
}
