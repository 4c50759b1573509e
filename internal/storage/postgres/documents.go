package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

const documentColumns = `
	id, space_id, org_id, uploader_id, source, status,
	raw_key, mime_type, type, content, title, summary,
	summary_embedding, embedding_model, chunk_count, average_chunk_size,
	processing_steps, created_at, updated_at`

// CreateDocument inserts a new document.
func (s *Store) CreateDocument(ctx context.Context, doc *types.Document) error {
	return insertDocument(ctx, s.db, doc)
}

func insertDocument(ctx context.Context, ex execer, doc *types.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}
	if doc.SpaceID == "" {
		return fmt.Errorf("%w: document space is required", storage.ErrInvalidInput)
	}
	if doc.Status == "" {
		doc.Status = types.DocumentQueued
	}
	if doc.Source == "" {
		doc.Source = types.SourceUpload
	}
	ts := now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = ts
	}
	doc.UpdatedAt = ts

	steps := doc.ProcessingSteps
	if steps == nil {
		steps = []types.ProcessingStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal processing steps: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		doc.ID, doc.SpaceID, doc.OrgID, doc.UploaderID, doc.Source, string(doc.Status),
		nullableString(doc.RawKey), nullableString(doc.MIMEType), nullableString(doc.Type),
		nullableString(doc.Content), nullableString(doc.Title), nullableString(doc.Summary),
		vectorArg(doc.SummaryEmbedding), nullableString(doc.EmbeddingModel),
		doc.ChunkCount, doc.AverageChunkSize,
		string(stepsJSON), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get document: %w", err)
	}
	return doc, nil
}

// AppendProcessingStep appends step with a jsonb concatenation so earlier
// entries are never rewritten.
func (s *Store) AppendProcessingStep(ctx context.Context, id string, status types.DocumentStatus, step types.ProcessingStep) error {
	if id == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	stepJSON, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal processing step: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET
			processing_steps = COALESCE(processing_steps, '[]'::jsonb) || jsonb_build_array($1::jsonb),
			status = COALESCE(NULLIF($2, ''), status),
			updated_at = $3
		WHERE id = $4
	`, string(stepJSON), string(status), now(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to append processing step: %w", err)
	}
	return requireRow(res)
}

// UpdateDocumentContent stores extracted text and clears the raw payload key.
func (s *Store) UpdateDocumentContent(ctx context.Context, id, content, docType string) error {
	if id == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content = $1, type = $2, raw_key = NULL, updated_at = $3
		WHERE id = $4
	`, content, nullableString(docType), now(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update document content: %w", err)
	}
	return requireRow(res)
}

// UpdateDocumentEssentials stores the title, summary and summary embedding.
func (s *Store) UpdateDocumentEssentials(ctx context.Context, id string, u storage.EssentialsUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET
			title = $1,
			summary = $2,
			summary_embedding = COALESCE($3, summary_embedding),
			embedding_model = COALESCE($4, embedding_model),
			updated_at = $5
		WHERE id = $6
	`, nullableString(u.Title), nullableString(u.Summary),
		vectorArg(u.SummaryEmbedding), nullableString(u.EmbeddingModel), now(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update document essentials: %w", err)
	}
	return requireRow(res)
}

// ListDocumentsByStatus returns up to limit documents in status, oldest
// first, skipping the first offset.
func (s *Store) ListDocumentsByStatus(ctx context.Context, status types.DocumentStatus, limit, offset int) ([]*types.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var (
		doc                                types.Document
		status                             string
		stepsJSON                          []byte
		rawKey, mimeType, docType, content sql.NullString
		title, summary, embeddingModel     sql.NullString
		summaryEmbedding                   *pgvector.Vector
	)

	err := row.Scan(
		&doc.ID, &doc.SpaceID, &doc.OrgID, &doc.UploaderID, &doc.Source, &status,
		&rawKey, &mimeType, &docType, &content, &title, &summary,
		&summaryEmbedding, &embeddingModel, &doc.ChunkCount, &doc.AverageChunkSize,
		&stepsJSON, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = types.DocumentStatus(status)
	doc.RawKey = rawKey.String
	doc.MIMEType = mimeType.String
	doc.Type = docType.String
	doc.Content = content.String
	doc.Title = title.String
	doc.Summary = summary.String
	doc.EmbeddingModel = embeddingModel.String
	doc.SummaryEmbedding = vectorSlice(summaryEmbedding)

	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &doc.ProcessingSteps); err != nil {
			return nil, fmt.Errorf("document %s processing steps: %w", doc.ID, err)
		}
	}
	return &doc, nil
}
