package sqlite

import "github.com/scrypster/recollect/internal/storage"

// Migrations is the SQLite schema history.
var Migrations = []storage.Migration{
	{
		Version: 1,
		Name:    "initial",
		Up: `
CREATE TABLE IF NOT EXISTS spaces (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL DEFAULT '',
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    space_id TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
    org_id TEXT NOT NULL DEFAULT '',
    uploader_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT 'upload',
    status TEXT NOT NULL,
    raw_key TEXT,
    mime_type TEXT,
    type TEXT,
    content TEXT,
    title TEXT,
    summary TEXT,
    summary_embedding BLOB,
    embedding_model TEXT,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    average_chunk_size REAL NOT NULL DEFAULT 0,
    processing_steps TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_space ON documents(space_id);

CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL CHECK (position >= 0),
    content TEXT NOT NULL,
    embedding BLOB,
    embedding_model TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (document_id, position)
);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    space_id TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
    org_id TEXT NOT NULL DEFAULT '',
    owner_key TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    embedding BLOB,
    embedding_model TEXT,
    version INTEGER NOT NULL DEFAULT 1 CHECK (version >= 1),
    lifecycle TEXT NOT NULL CHECK (lifecycle IN ('active', 'superseded', 'forgotten')),
    parent_id TEXT REFERENCES memories(id),
    root_id TEXT REFERENCES memories(id),
    relations TEXT,
    title TEXT,
    source TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_candidates ON memories(space_id, lifecycle, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_root ON memories(root_id);

-- At most one active entry per lineage.
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_one_active
    ON memories(COALESCE(root_id, id)) WHERE lifecycle = 'active';

CREATE TABLE IF NOT EXISTS memory_documents (
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    relevance INTEGER NOT NULL CHECK (relevance BETWEEN 0 AND 100),
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (memory_id, document_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_documents_document ON memory_documents(document_id);
`,
	},
}
