package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/ragerr"
)

const uniqueViolation = "23505"

// PGRepository is the pgx/pgvector-backed Repository implementation.
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to PostgreSQL and ensures the schema exists.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*PGRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ServiceUnavailable, "connect to postgres", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "initialize schema", err)
	}
	return &PGRepository{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (r *PGRepository) Close() { r.pool.Close() }

func validateEmbedding(v []float32) error {
	if v == nil {
		return ragerr.New(ragerr.Validation, "embedding must not be nil")
	}
	if len(v) != domain.EmbeddingDimension {
		return ragerr.New(ragerr.Validation, fmt.Sprintf("embedding dimension must be %d, got %d", domain.EmbeddingDimension, len(v)))
	}
	return nil
}

// SaveDocumentWithChunks inserts the document, its chunks, and optional nodes
// in a single transaction. On a (workspace_id, content_hash) unique
// violation, it re-reads and returns the winner instead of failing, so a
// concurrent duplicate ingest stays idempotent.
func (r *PGRepository) SaveDocumentWithChunks(ctx context.Context, doc domain.Document, chunks []domain.Chunk, nodes []domain.Node) (domain.Document, error) {
	for _, c := range chunks {
		if err := validateEmbedding(c.Embedding); err != nil {
			return domain.Document{}, err
		}
	}
	for _, n := range nodes {
		if err := validateEmbedding(n.Embedding); err != nil {
			return domain.Document{}, err
		}
	}

	ws, err := r.GetWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return domain.Document{}, err
	}
	if ws == nil {
		return domain.Document{}, ragerr.New(ragerr.NotFound, "workspace not found")
	}
	ftsLang := string(ws.FTSLanguage.Normalize())

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Document{}, ragerr.Wrap(ragerr.ServiceUnavailable, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, workspace_id, title, status, content_hash, file_name, mime_type,
			storage_key, tags, allowed_roles, external_source_id, external_etag, external_modified_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
	`, doc.ID, doc.WorkspaceID, doc.Title, doc.Status, doc.ContentHash, doc.FileName, doc.MimeType,
		doc.StorageKey, setToSlice(doc.Tags), setToSlice(doc.AllowedRoles),
		doc.ExternalSourceID, doc.ExternalETag, doc.ExternalModifiedTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && doc.ContentHash != nil {
			existing, getErr := r.GetDocumentByContentHash(ctx, doc.WorkspaceID, *doc.ContentHash)
			if getErr != nil {
				return domain.Document{}, getErr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.Document{}, ragerr.Wrap(ragerr.Internal, "insert document", err)
	}

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, embedding, tsv, metadata)
			VALUES ($1,$2,$3,$4,$5, to_tsvector($6::regconfig, $4), $7)
		`, c.ID, doc.ID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), ftsLang, metadataOrEmpty(c.Metadata))
		if err != nil {
			return domain.Document{}, ragerr.Wrap(ragerr.Internal, "insert chunk", err)
		}
	}

	for _, n := range nodes {
		_, err := tx.Exec(ctx, `
			INSERT INTO nodes (id, workspace_id, document_id, node_index, node_text, embedding, span_start, span_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, n.ID, n.WorkspaceID, doc.ID, n.NodeIndex, n.NodeText, pgvector.NewVector(n.Embedding), n.SpanStart, n.SpanEnd)
		if err != nil {
			return domain.Document{}, ragerr.Wrap(ragerr.Internal, "insert node", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && doc.ContentHash != nil {
			existing, getErr := r.GetDocumentByContentHash(ctx, doc.WorkspaceID, *doc.ContentHash)
			if getErr != nil {
				return domain.Document{}, getErr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.Document{}, ragerr.Wrap(ragerr.Internal, "commit transaction", err)
	}

	return doc, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

// GetDocumentByContentHash looks up a document by its dedup hash.
func (r *PGRepository) GetDocumentByContentHash(ctx context.Context, workspaceID uuid.UUID, hash string) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, title, status, content_hash, file_name, mime_type, storage_key,
			tags, allowed_roles, external_source_id, external_etag, external_modified_time, error_message, created_at, deleted_at
		FROM documents WHERE workspace_id = $1 AND content_hash = $2 AND deleted_at IS NULL
	`, workspaceID, hash)
	return scanDocument(row)
}

// GetDocument fetches a single document scoped to its workspace.
func (r *PGRepository) GetDocument(ctx context.Context, workspaceID, documentID uuid.UUID) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, title, status, content_hash, file_name, mime_type, storage_key,
			tags, allowed_roles, external_source_id, external_etag, external_modified_time, error_message, created_at, deleted_at
		FROM documents WHERE workspace_id = $1 AND id = $2 AND deleted_at IS NULL
	`, workspaceID, documentID)
	return scanDocument(row)
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var tags, roles []string
	err := row.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.Status, &d.ContentHash, &d.FileName, &d.MimeType,
		&d.StorageKey, &tags, &roles, &d.ExternalSourceID, &d.ExternalETag, &d.ExternalModifiedTime,
		&d.ErrorMessage, &d.CreatedAt, &d.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "scan document", err)
	}
	d.Tags = sliceToSet(tags)
	d.AllowedRoles = sliceToSet(roles)
	return &d, nil
}

// ListDocuments returns up to limit+1 rows so the caller can derive a next
// cursor without a second count query.
func (r *PGRepository) ListDocuments(ctx context.Context, workspaceID uuid.UUID, limit, offset int, filters ListFilters) ([]domain.Document, error) {
	order := "created_at DESC"
	switch filters.Sort {
	case SortCreatedAtAsc:
		order = "created_at ASC"
	case SortTitleAsc:
		order = "title ASC"
	case SortTitleDesc:
		order = "title DESC"
	}

	var conditions []string
	args := []any{workspaceID}
	conditions = append(conditions, "workspace_id = $1", "deleted_at IS NULL")

	if filters.Query != "" {
		args = append(args, "%"+filters.Query+"%")
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Tag != "" {
		args = append(args, filters.Tag)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}

	args = append(args, limit+1, offset)
	sqlStr := fmt.Sprintf(`
		SELECT id, workspace_id, title, status, content_hash, file_name, mime_type, storage_key,
			tags, allowed_roles, external_source_id, external_etag, external_modified_time, error_message, created_at, deleted_at
		FROM documents WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), order, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "list documents", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// FindSimilarChunks performs cosine-distance vector search within a workspace.
func (r *PGRepository) FindSimilarChunks(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int) ([]ChunkMatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.embedding, c.metadata,
			1 - (c.embedding <=> $2) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.workspace_id = $1 AND d.deleted_at IS NULL
		ORDER BY c.embedding <=> $2
		LIMIT $3
	`, workspaceID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "find similar chunks", err)
	}
	defer rows.Close()
	return scanChunkMatches(rows)
}

// FindSimilarChunksMMR reranks a larger pool with Maximal Marginal Relevance
// to trade relevance for diversity.
func (r *PGRepository) FindSimilarChunksMMR(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int, lambda float64, poolSize int) ([]ChunkMatch, error) {
	if poolSize < topK {
		poolSize = topK
	}
	pool, err := r.FindSimilarChunks(ctx, workspaceID, embedding, poolSize)
	if err != nil {
		return nil, err
	}
	return mmrSelect(pool, topK, lambda), nil
}

// mmrSelect greedily selects topK items from pool maximizing
// lambda*relevance - (1-lambda)*max_similarity_to_selected.
func mmrSelect(pool []ChunkMatch, topK int, lambda float64) []ChunkMatch {
	if len(pool) == 0 {
		return nil
	}
	selected := make([]ChunkMatch, 0, topK)
	remaining := append([]ChunkMatch(nil), pool...)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := -1.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				sim := cosineSim(cand.Chunk.Embedding, s.Chunk.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*cand.Score - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosineSim(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FindChunksFullText runs FTS using the workspace's fts_language regconfig.
func (r *PGRepository) FindChunksFullText(ctx context.Context, workspaceID uuid.UUID, query string, topK int) ([]ChunkMatch, error) {
	ws, err := r.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, ragerr.New(ragerr.NotFound, "workspace not found")
	}
	lang := string(ws.FTSLanguage.Normalize())

	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.embedding, c.metadata,
			ts_rank(c.tsv, plainto_tsquery($2::regconfig, $3)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.workspace_id = $1 AND d.deleted_at IS NULL
			AND c.tsv @@ plainto_tsquery($2::regconfig, $3)
		ORDER BY score DESC
		LIMIT $4
	`, workspaceID, lang, query, topK)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "full text search", err)
	}
	defer rows.Close()
	return scanChunkMatches(rows)
}

func scanChunkMatches(rows pgx.Rows) ([]ChunkMatch, error) {
	var out []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		var vec pgvector.Vector
		if err := rows.Scan(&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.ChunkIndex, &m.Chunk.Content,
			&vec, &m.Chunk.Metadata, &m.Score); err != nil {
			return nil, ragerr.Wrap(ragerr.Internal, "scan chunk match", err)
		}
		m.Chunk.Embedding = vec.Slice()
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindSimilarNodes performs cosine-distance vector search over nodes.
func (r *PGRepository) FindSimilarNodes(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int) ([]NodeMatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, document_id, node_index, node_text, embedding, span_start, span_end,
			1 - (embedding <=> $2) AS score
		FROM nodes WHERE workspace_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, workspaceID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "find similar nodes", err)
	}
	defer rows.Close()

	var out []NodeMatch
	for rows.Next() {
		var m NodeMatch
		var vec pgvector.Vector
		if err := rows.Scan(&m.Node.ID, &m.Node.WorkspaceID, &m.Node.DocumentID, &m.Node.NodeIndex,
			&m.Node.NodeText, &vec, &m.Node.SpanStart, &m.Node.SpanEnd, &m.Score); err != nil {
			return nil, ragerr.Wrap(ragerr.Internal, "scan node match", err)
		}
		m.Node.Embedding = vec.Slice()
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindChunksByNodeSpans fetches chunks belonging to any (document_id,
// span_start..span_end) range.
func (r *PGRepository) FindChunksByNodeSpans(ctx context.Context, workspaceID uuid.UUID, spans []NodeSpan) ([]domain.Chunk, error) {
	if len(spans) == 0 {
		return nil, nil
	}

	var conditions []string
	args := []any{workspaceID}
	for _, s := range spans {
		args = append(args, s.DocumentID, s.SpanStart, s.SpanEnd)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(c.document_id = $%d AND c.chunk_index BETWEEN $%d AND $%d)", n-2, n-1, n))
	}

	sqlStr := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.embedding, c.metadata
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.workspace_id = $1 AND d.deleted_at IS NULL AND (%s)
		ORDER BY c.document_id, c.chunk_index
	`, strings.Join(conditions, " OR "))

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "find chunks by node spans", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &vec, &c.Metadata); err != nil {
			return nil, ragerr.Wrap(ragerr.Internal, "scan chunk", err)
		}
		c.Embedding = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionDocumentStatus performs a compare-and-swap status transition.
func (r *PGRepository) TransitionDocumentStatus(ctx context.Context, documentID uuid.UUID, from, to domain.DocumentStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET status = $3 WHERE id = $1 AND status = $2
	`, documentID, from, to)
	if err != nil {
		return false, ragerr.Wrap(ragerr.Internal, "transition document status", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailDocument transitions a document to FAILED with a human-readable
// error_message, regardless of its current status.
func (r *PGRepository) FailDocument(ctx context.Context, documentID uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents SET status = $2, error_message = $3 WHERE id = $1
	`, documentID, domain.StatusFailed, errorMessage)
	if err != nil {
		return ragerr.Wrap(ragerr.Internal, "fail document", err)
	}
	return nil
}

// ReplaceChunksAndNodes inserts chunks/nodes for an already-persisted
// document, used after DeleteChunksForDocument during reprocessing.
func (r *PGRepository) ReplaceChunksAndNodes(ctx context.Context, workspaceID, documentID uuid.UUID, chunks []domain.Chunk, nodes []domain.Node) error {
	for _, c := range chunks {
		if err := validateEmbedding(c.Embedding); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		if err := validateEmbedding(n.Embedding); err != nil {
			return err
		}
	}

	ws, err := r.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws == nil {
		return ragerr.New(ragerr.NotFound, "workspace not found")
	}
	ftsLang := string(ws.FTSLanguage.Normalize())

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ragerr.Wrap(ragerr.ServiceUnavailable, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, embedding, tsv, metadata)
			VALUES ($1,$2,$3,$4,$5, to_tsvector($6::regconfig, $4), $7)
		`, c.ID, documentID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), ftsLang, metadataOrEmpty(c.Metadata))
		if err != nil {
			return ragerr.Wrap(ragerr.Internal, "insert chunk", err)
		}
	}
	for _, n := range nodes {
		_, err := tx.Exec(ctx, `
			INSERT INTO nodes (id, workspace_id, document_id, node_index, node_text, embedding, span_start, span_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, n.ID, workspaceID, documentID, n.NodeIndex, n.NodeText, pgvector.NewVector(n.Embedding), n.SpanStart, n.SpanEnd)
		if err != nil {
			return ragerr.Wrap(ragerr.Internal, "insert node", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ragerr.Wrap(ragerr.Internal, "commit transaction", err)
	}
	return nil
}

// DeleteChunksForDocument removes all chunks and nodes for a document, used
// by the async processor before an idempotent reprocess.
func (r *PGRepository) DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM nodes WHERE document_id = $1`, documentID); err != nil {
		return ragerr.Wrap(ragerr.Internal, "delete nodes", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return ragerr.Wrap(ragerr.Internal, "delete chunks", err)
	}
	return nil
}

// GetWorkspace fetches a workspace by ID.
func (r *PGRepository) GetWorkspace(ctx context.Context, workspaceID uuid.UUID) (*domain.Workspace, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, owner_user_id, visibility, fts_language, archived_at, created_at, updated_at
		FROM workspaces WHERE id = $1
	`, workspaceID)

	var w domain.Workspace
	err := row.Scan(&w.ID, &w.Name, &w.OwnerUserID, &w.Visibility, &w.FTSLanguage, &w.ArchivedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "get workspace", err)
	}
	return &w, nil
}

// ListACL lists the ACL entries for a workspace.
func (r *PGRepository) ListACL(ctx context.Context, workspaceID uuid.UUID) ([]domain.ACLEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT workspace_id, user_id, role, granted_by, created_at
		FROM workspace_acl_entries WHERE workspace_id = $1
	`, workspaceID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "list acl", err)
	}
	defer rows.Close()

	var out []domain.ACLEntry
	for rows.Next() {
		var e domain.ACLEntry
		if err := rows.Scan(&e.WorkspaceID, &e.UserID, &e.Role, &e.GrantedBy, &e.CreatedAt); err != nil {
			return nil, ragerr.Wrap(ragerr.Internal, "scan acl entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
