package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// ReplaceChunks swaps the document's chunk set and chunk statistics in one
// transaction. New rows are streamed with COPY.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []*types.Chunk) error {
	if documentID == "" {
		return fmt.Errorf("%w: document ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("postgres: failed to delete chunks: %w", err)
	}

	ts := now()
	total := 0
	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("chunks",
			"id", "document_id", "position", "content", "embedding", "embedding_model", "created_at"))
		if err != nil {
			return fmt.Errorf("postgres: failed to prepare chunk copy: %w", err)
		}

		for i, c := range chunks {
			if c.ID == "" {
				stmt.Close()
				return fmt.Errorf("%w: chunk %d has no ID", storage.ErrInvalidInput, i)
			}
			c.DocumentID = documentID
			c.Position = i
			if c.CreatedAt.IsZero() {
				c.CreatedAt = ts
			}
			total += utf8.RuneCountInString(c.Content)

			if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Position, c.Content,
				vectorArg(c.Embedding), nullableString(c.EmbeddingModel), c.CreatedAt); err != nil {
				stmt.Close()
				return fmt.Errorf("postgres: failed to copy chunk %d: %w", i, err)
			}
		}

		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("postgres: failed to flush chunk copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("postgres: failed to close chunk copy: %w", err)
		}
	}

	avg := 0.0
	if len(chunks) > 0 {
		avg = float64(total) / float64(len(chunks))
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET chunk_count = $1, average_chunk_size = $2, updated_at = $3
		WHERE id = $4
	`, len(chunks), avg, ts, documentID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update chunk statistics: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit chunks: %w", err)
	}
	return nil
}

// ListChunks returns the document's chunks ordered by position.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, position, content, embedding, embedding_model, created_at
		FROM chunks WHERE document_id = $1
		ORDER BY position ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		var (
			c     types.Chunk
			vec   *pgvector.Vector
			model sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Content, &vec, &model, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan chunk: %w", err)
		}
		c.Embedding = vectorSlice(vec)
		c.EmbeddingModel = model.String
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// UpdateChunkEmbedding stores the embedding of a single chunk.
func (s *Store) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error {
	if chunkID == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET embedding = $1, embedding_model = $2 WHERE id = $3
	`, pgvector.NewVector(embedding), nullableString(model), chunkID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update chunk embedding: %w", err)
	}
	return requireRow(res)
}
