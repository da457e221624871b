package repository

// schema is the repository's DDL. New executes it on every connect; every
// statement is IF NOT EXISTS, so running it against an existing database
// is a no-op.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS workspaces (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	owner_user_id TEXT NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'PRIVATE',
	fts_language TEXT NOT NULL DEFAULT 'spanish',
	archived_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_user_id, name)
);

CREATE TABLE IF NOT EXISTS workspace_acl_entries (
	workspace_id UUID NOT NULL REFERENCES workspaces(id),
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	granted_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, user_id)
);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	workspace_id UUID NOT NULL REFERENCES workspaces(id),
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	content_hash CHAR(64),
	file_name TEXT,
	mime_type TEXT,
	storage_key TEXT,
	tags TEXT[] NOT NULL DEFAULT '{}',
	allowed_roles TEXT[] NOT NULL DEFAULT '{}',
	external_source_id TEXT,
	external_etag TEXT,
	external_modified_time TIMESTAMPTZ,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS documents_workspace_content_hash_uq
	ON documents (workspace_id, content_hash) WHERE content_hash IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS documents_workspace_external_source_uq
	ON documents (workspace_id, external_source_id)
	WHERE external_source_id IS NOT NULL AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding vector(768) NOT NULL,
	tsv tsvector,
	metadata JSONB NOT NULL DEFAULT '{}',
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw
	ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);

CREATE INDEX IF NOT EXISTS chunks_tsv_gin ON chunks USING gin (tsv);

CREATE TABLE IF NOT EXISTS nodes (
	id UUID PRIMARY KEY,
	workspace_id UUID NOT NULL REFERENCES workspaces(id),
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	node_index INTEGER NOT NULL,
	node_text TEXT NOT NULL,
	embedding vector(768) NOT NULL,
	span_start INTEGER NOT NULL,
	span_end INTEGER NOT NULL,
	UNIQUE (document_id, node_index)
);

CREATE INDEX IF NOT EXISTS nodes_embedding_hnsw
	ON nodes USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);
`
