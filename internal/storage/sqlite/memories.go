package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

const memoryColumns = `
	id, space_id, org_id, owner_key, content, embedding, embedding_model,
	version, lifecycle, parent_id, root_id, relations, title, source, metadata,
	created_at, updated_at`

// errCorruptVector marks a row whose stored embedding cannot be decoded.
var errCorruptVector = errors.New("corrupt vector")

// GetMemory retrieves a memory entry by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// ListCandidates returns the most recent active entries that carry an
// embedding. Rows with undecodable vectors are logged and skipped.
func (s *Store) ListCandidates(ctx context.Context, q storage.CandidateQuery) ([]*types.MemoryEntry, error) {
	if q.SpaceID == "" {
		return nil, fmt.Errorf("%w: space ID is required", storage.ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = storage.DefaultCandidateLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE space_id = ? AND lifecycle = ? AND embedding IS NOT NULL AND length(embedding) > 0
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, q.SpaceID, string(types.LifecycleActive), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	candidates := []*types.MemoryEntry{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if errors.Is(err, errCorruptVector) {
			s.logger.Warn("skipping memory with corrupt embedding", "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		candidates = append(candidates, m)
	}
	return candidates, rows.Err()
}

// CommitMemory supersedes the parent, inserts the backing document, the new
// entry and its source link in one transaction.
func (s *Store) CommitMemory(ctx context.Context, c storage.MemoryCommit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()

	if c.SupersedeID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET lifecycle = ?, updated_at = ?
			WHERE id = ? AND lifecycle = ?
		`, string(types.LifecycleSuperseded), ts, c.SupersedeID, string(types.LifecycleActive))
		if err != nil {
			return fmt.Errorf("failed to supersede memory: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: memory %s is no longer active", storage.ErrConflict, c.SupersedeID)
		}
	}

	if c.Document != nil {
		if err := insertDocument(ctx, tx, c.Document); err != nil {
			return err
		}
	}

	if err := insertMemory(ctx, tx, c.Memory); err != nil {
		return err
	}

	if c.Link != nil {
		if err := insertLink(ctx, tx, c.Link); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memory: %w", err)
	}
	return nil
}

func insertMemory(ctx context.Context, ex execer, m *types.MemoryEntry) error {
	ts := now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = ts
	}
	m.UpdatedAt = ts

	relations, err := marshalOptional(m.Relations, len(m.Relations) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal relations: %w", err)
	}
	metadata, err := marshalOptional(m.Metadata, len(m.Metadata) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.SpaceID, m.OrgID, m.OwnerKey, m.Content,
		vectorArg(m.Embedding), nullableString(m.EmbeddingModel),
		m.Version, string(m.Lifecycle), nullableString(m.ParentID), nullableString(m.RootID),
		relations, nullableString(m.Title), nullableString(m.Source), metadata,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

func insertLink(ctx context.Context, ex execer, l *types.SourceLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now()
	}
	l.Relevance = types.ClampRelevance(l.Relevance)

	metadata, err := marshalOptional(l.Metadata, len(l.Metadata) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal link metadata: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO memory_documents (memory_id, document_id, relevance, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, document_id) DO UPDATE SET
			relevance = excluded.relevance,
			metadata = excluded.metadata
	`, l.MemoryID, l.DocumentID, l.Relevance, metadata, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert source link: %w", err)
	}
	return nil
}

// ForgetMemory moves an entry to the forgotten lifecycle.
func (s *Store) ForgetMemory(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET lifecycle = ?, updated_at = ?
		WHERE id = ? AND lifecycle != ?
	`, string(types.LifecycleForgotten), now(), id, string(types.LifecycleForgotten))
	if err != nil {
		return fmt.Errorf("failed to forget memory: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check memory: %w", err)
	}
	return nil
}

// ListLineage returns every entry of a lineage ordered by version.
func (s *Store) ListLineage(ctx context.Context, rootID string) ([]*types.MemoryEntry, error) {
	if rootID == "" {
		return nil, fmt.Errorf("%w: root ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE id = ? OR root_id = ?
		ORDER BY version ASC, created_at ASC
	`, rootID, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lineage: %w", err)
	}
	defer rows.Close()

	var lineage []*types.MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows)
		if errors.Is(err, errCorruptVector) {
			s.logger.Warn("lineage entry has corrupt embedding", "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		lineage = append(lineage, m)
	}
	return lineage, rows.Err()
}

// ListDocumentLinks returns the source links of a document, newest first.
func (s *Store) ListDocumentLinks(ctx context.Context, documentID string) ([]*types.SourceLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, document_id, relevance, metadata, created_at
		FROM memory_documents WHERE document_id = ?
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source links: %w", err)
	}
	defer rows.Close()

	var links []*types.SourceLink
	for rows.Next() {
		var (
			l        types.SourceLink
			metadata sql.NullString
		)
		if err := rows.Scan(&l.MemoryID, &l.DocumentID, &l.Relevance, &metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source link: %w", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &l.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal link metadata: %w", err)
			}
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func scanMemory(row rowScanner) (*types.MemoryEntry, error) {
	var (
		m                                   types.MemoryEntry
		lifecycle                           string
		blob                                []byte
		model, parentID, rootID, title, src sql.NullString
		relations, metadata                 sql.NullString
	)

	err := row.Scan(
		&m.ID, &m.SpaceID, &m.OrgID, &m.OwnerKey, &m.Content, &blob, &model,
		&m.Version, &lifecycle, &parentID, &rootID, &relations, &title, &src, &metadata,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Lifecycle = types.Lifecycle(lifecycle)
	m.EmbeddingModel = model.String
	m.ParentID = parentID.String
	m.RootID = rootID.String
	m.Title = title.String
	m.Source = src.String

	if relations.Valid {
		if err := json.Unmarshal([]byte(relations.String), &m.Relations); err != nil {
			return nil, fmt.Errorf("memory %s relations: %w", m.ID, err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("memory %s metadata: %w", m.ID, err)
		}
	}

	if m.Embedding, err = decodeVector(blob); err != nil {
		return nil, fmt.Errorf("%w: memory %s: %v", errCorruptVector, m.ID, err)
	}
	return &m, nil
}

// marshalOptional JSON-encodes v when present is true, else binds NULL.
func marshalOptional(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
