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

// errCorruptRow marks a memory row whose embedding or JSON columns cannot
// be decoded.
var errCorruptRow = errors.New("corrupt memory row")

const memoryColumns = `
	id, space_id, org_id, owner_key, content, embedding, embedding_model,
	version, lifecycle, parent_id, root_id, relations, title, source, metadata,
	created_at, updated_at`

// GetMemory retrieves a memory entry by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
	}
	return m, nil
}

// ListCandidates returns the most recent active entries that carry an
// embedding.
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
		WHERE space_id = $1 AND lifecycle = $2 AND embedding IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, q.SpaceID, string(types.LifecycleActive), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list candidates: %w", err)
	}
	defer rows.Close()

	return s.collectMemories(rows)
}

// NearestMemories asks pgvector for the active entries closest to query by
// cosine distance. Entries whose dimension differs from the query are
// excluded rather than failing the query.
func (s *Store) NearestMemories(ctx context.Context, spaceID string, query []float32, limit int) ([]*types.MemoryEntry, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("%w: space ID is required", storage.ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = storage.DefaultCandidateLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE space_id = $1 AND lifecycle = $2 AND embedding IS NOT NULL
			AND vector_dims(embedding) = $3
		ORDER BY embedding <=> $4
		LIMIT $5
	`, spaceID, string(types.LifecycleActive), len(query), pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query nearest memories: %w", err)
	}
	defer rows.Close()

	return s.collectMemories(rows)
}

// memoryRows is the part of *sql.Rows that collectMemories reads.
type memoryRows interface {
	rowScanner
	Next() bool
	Err() error
}

// collectMemories scans every row. Corrupt rows are logged and skipped.
func (s *Store) collectMemories(rows memoryRows) ([]*types.MemoryEntry, error) {
	out := []*types.MemoryEntry{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if errors.Is(err, errCorruptRow) {
			s.logger.Warn("skipping corrupt memory row", "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CommitMemory supersedes the parent, inserts the backing document, the new
// entry and its source link in one transaction.
func (s *Store) CommitMemory(ctx context.Context, c storage.MemoryCommit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if c.SupersedeID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET lifecycle = $1, updated_at = $2
			WHERE id = $3 AND lifecycle = $4
		`, string(types.LifecycleSuperseded), now(), c.SupersedeID, string(types.LifecycleActive))
		if err != nil {
			return fmt.Errorf("postgres: failed to supersede memory: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("postgres: failed to check rows affected: %w", err)
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
		return fmt.Errorf("postgres: failed to commit memory: %w", err)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		m.ID, m.SpaceID, m.OrgID, m.OwnerKey, m.Content,
		vectorArg(m.Embedding), nullableString(m.EmbeddingModel),
		m.Version, string(m.Lifecycle), nullableString(m.ParentID), nullableString(m.RootID),
		relations, nullableString(m.Title), nullableString(m.Source), metadata,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert memory: %w", err)
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (memory_id, document_id) DO UPDATE SET
			relevance = EXCLUDED.relevance,
			metadata = EXCLUDED.metadata
	`, l.MemoryID, l.DocumentID, l.Relevance, metadata, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert source link: %w", err)
	}
	return nil
}

// ForgetMemory moves an entry to the forgotten lifecycle. Forgetting an
// already forgotten entry is a no-op.
func (s *Store) ForgetMemory(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET lifecycle = $1, updated_at = $2
		WHERE id = $3 AND lifecycle <> $1
	`, string(types.LifecycleForgotten), now(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to forget memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM memories WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: failed to check memory: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
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
		WHERE id = $1 OR root_id = $1
		ORDER BY version ASC, created_at ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list lineage: %w", err)
	}
	defer rows.Close()

	lineage, err := s.collectMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(lineage) == 0 {
		return nil, nil
	}
	return lineage, nil
}

// ListDocumentLinks returns the source links of a document, newest first.
func (s *Store) ListDocumentLinks(ctx context.Context, documentID string) ([]*types.SourceLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, document_id, relevance, metadata, created_at
		FROM memory_documents WHERE document_id = $1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list source links: %w", err)
	}
	defer rows.Close()

	var links []*types.SourceLink
	for rows.Next() {
		var (
			l        types.SourceLink
			metadata []byte
		)
		if err := rows.Scan(&l.MemoryID, &l.DocumentID, &l.Relevance, &metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan source link: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
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
		rawVec, relations, metadata         []byte
		model, parentID, rootID, title, src sql.NullString
	)

	err := row.Scan(
		&m.ID, &m.SpaceID, &m.OrgID, &m.OwnerKey, &m.Content, &rawVec, &model,
		&m.Version, &lifecycle, &parentID, &rootID, &relations, &title, &src, &metadata,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Lifecycle = types.Lifecycle(lifecycle)
	if rawVec != nil {
		var vec pgvector.Vector
		if err := vec.Scan(rawVec); err != nil {
			return nil, fmt.Errorf("%w: memory %s embedding: %v", errCorruptRow, m.ID, err)
		}
		m.Embedding = vectorSlice(&vec)
	}
	m.EmbeddingModel = model.String
	m.ParentID = parentID.String
	m.RootID = rootID.String
	m.Title = title.String
	m.Source = src.String

	if len(relations) > 0 {
		if err := json.Unmarshal(relations, &m.Relations); err != nil {
			return nil, fmt.Errorf("%w: memory %s relations: %v", errCorruptRow, m.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("%w: memory %s metadata: %v", errCorruptRow, m.ID, err)
		}
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
