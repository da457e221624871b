// Package ingest implements the synchronous ingestion pipeline: resolve
// workspace, authorize, dedup by content hash, chunk, embed in one batch,
// optionally build nodes, and persist atomically. A node-build failure
// degrades gracefully; the document write still succeeds.
package ingest

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mau5law/ragcore/internal/audit"
	"github.com/mau5law/ragcore/internal/chunking"
	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/embedding"
	"github.com/mau5law/ragcore/internal/hashing"
	"github.com/mau5law/ragcore/internal/nodes"
	"github.com/mau5law/ragcore/internal/policy"
	"github.com/mau5law/ragcore/internal/ragerr"
	"github.com/mau5law/ragcore/internal/repository"
)

// Request is the ingestion pipeline's input.
type Request struct {
	WorkspaceID uuid.UUID
	Actor       domain.Actor
	Title       string
	Text        string
	Metadata    map[string]any
	Tags        map[string]struct{}
	BuildNodes  bool
}

// Result is the ingestion pipeline's output on success.
type Result struct {
	DocumentID    uuid.UUID
	ChunksCreated int
	Status        domain.DocumentStatus
}

// Pipeline wires the repository and embedder together; it holds no other
// state and is safe for concurrent use.
type Pipeline struct {
	repo        repository.Repository
	embedder    embedding.Embedder
	auditSink   audit.Sink
	chunkParams chunking.Params
	nodeParams  nodes.Params
	logger      *zap.Logger
}

// New builds an ingestion pipeline. A nil logger defaults to zap.NewNop();
// a nil audit sink disables audit recording.
func New(repo repository.Repository, embedder embedding.Embedder, auditSink audit.Sink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		repo:        repo,
		embedder:    embedder,
		auditSink:   auditSink,
		chunkParams: chunking.DefaultParams(),
		nodeParams:  nodes.DefaultParams(),
		logger:      logger,
	}
}

// Ingest runs the pipeline end to end. A dedup hit returns the existing
// document with ChunksCreated=0 and makes no provider calls.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	ws, err := p.repo.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return Result{}, err
	}
	if ws == nil {
		return Result{}, ragerr.New(ragerr.NotFound, "workspace not found")
	}

	acl, err := p.repo.ListACL(ctx, req.WorkspaceID)
	if err != nil {
		return Result{}, err
	}
	if !policy.CanWrite(*ws, req.Actor, acl) {
		return Result{}, ragerr.New(ragerr.Forbidden, "actor may not write to this workspace")
	}

	var hash *string
	if req.Text != "" {
		h := hashing.TextHash(req.WorkspaceID.String(), req.Text)
		hash = &h

		existing, err := p.repo.GetDocumentByContentHash(ctx, req.WorkspaceID, h)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			p.recordAudit(ctx, req, existing.ID, 0, true)
			return Result{DocumentID: existing.ID, ChunksCreated: 0, Status: existing.Status}, nil
		}
	}

	pieces := chunking.Chunk(req.Text, p.chunkParams)
	documentID := uuid.New()

	chunkTexts := make([]string, len(pieces))
	copy(chunkTexts, pieces)

	var embeddings [][]float32
	if len(chunkTexts) > 0 {
		embeddings, err = p.embedder.EmbedBatch(ctx, chunkTexts, embedding.TaskTypeDocument)
		if err != nil {
			return Result{}, ragerr.Wrap(ragerr.ServiceUnavailable, "embed chunks", err)
		}
	}

	chunks := make([]domain.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = domain.Chunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    text,
			Embedding:  embeddings[i],
			Metadata:   req.Metadata,
		}
	}

	var builtNodes []domain.Node
	if req.BuildNodes && len(chunks) > 0 {
		builtNodes, err = nodes.Build(ctx, p.embedder, req.WorkspaceID, documentID, chunks, p.nodeParams)
		if err != nil {
			p.logger.Warn("node build failed, proceeding without two-tier nodes",
				zap.String("document_id", documentID.String()), zap.Error(err))
			builtNodes = nil
		}
	}

	doc := domain.Document{
		ID:          documentID,
		WorkspaceID: req.WorkspaceID,
		Title:       req.Title,
		Status:      domain.StatusReady,
		ContentHash: hash,
		Tags:        req.Tags,
	}

	saved, err := p.repo.SaveDocumentWithChunks(ctx, doc, chunks, builtNodes)
	if err != nil {
		return Result{}, err
	}

	if saved.ID != documentID {
		// A concurrent ingest of the same content won the race.
		p.recordAudit(ctx, req, saved.ID, 0, true)
		return Result{DocumentID: saved.ID, ChunksCreated: 0, Status: saved.Status}, nil
	}

	p.recordAudit(ctx, req, saved.ID, len(chunks), false)
	return Result{DocumentID: saved.ID, ChunksCreated: len(chunks), Status: saved.Status}, nil
}

// recordAudit appends a documents.ingest event. Audit failures never fail
// the ingest itself.
func (p *Pipeline) recordAudit(ctx context.Context, req Request, documentID uuid.UUID, chunksCreated int, deduplicated bool) {
	if p.auditSink == nil {
		return
	}
	event := domain.AuditEvent{
		ID:       uuid.New(),
		Actor:    req.Actor.UserID,
		Action:   "documents.ingest",
		TargetID: documentID.String(),
		Metadata: map[string]any{
			"workspace_id":   req.WorkspaceID.String(),
			"document_id":    documentID.String(),
			"chunks_created": chunksCreated,
			"deduplicated":   deduplicated,
		},
	}
	if err := p.auditSink.Record(ctx, event); err != nil {
		p.logger.Warn("failed to record ingest audit event",
			zap.String("document_id", documentID.String()), zap.Error(err))
	}
}
