// Package processor implements the async document-processing state machine:
// PENDING -> PROCESSING -> {READY, FAILED}. A job claims its document via a
// CAS status transition, downloads the raw file, extracts text by MIME type,
// chunks, embeds, replaces any prior chunks, and flips the final status.
package processor

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/mau5law/ragcore/internal/audit"
	"github.com/mau5law/ragcore/internal/chunking"
	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/embedding"
	"github.com/mau5law/ragcore/internal/nodes"
	"github.com/mau5law/ragcore/internal/objectstore"
	"github.com/mau5law/ragcore/internal/queue"
	"github.com/mau5law/ragcore/internal/ragerr"
	"github.com/mau5law/ragcore/internal/repository"
)

// Parser extracts plain text from a raw document given its MIME type.
type Parser interface {
	// Supports reports whether this parser handles mimeType.
	Supports(mimeType string) bool
	// Extract returns the document's plain-text content.
	Extract(raw []byte) (string, error)
}

// Processor claims PENDING documents, extracts and re-chunks their content,
// and flips their status to READY or FAILED.
type Processor struct {
	repo        repository.Repository
	store       objectstore.Port
	embedder    embedding.Embedder
	parsers     []Parser
	chunkParams chunking.Params
	nodeParams  nodes.Params
	buildNodes  bool
	logger      *zap.Logger
}

// New builds a Processor. A nil logger defaults to zap.NewNop().
func New(repo repository.Repository, store objectstore.Port, embedder embedding.Embedder, parsers []Parser, buildNodes bool, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		repo:        repo,
		store:       store,
		embedder:    embedder,
		parsers:     parsers,
		chunkParams: chunking.DefaultParams(),
		nodeParams:  nodes.DefaultParams(),
		buildNodes:  buildNodes,
		logger:      logger,
	}
}

// Run drains q until ctx is cancelled, processing each job with Process.
func (p *Processor) Run(ctx context.Context, q queue.Port) {
	for {
		job, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if err := p.Process(ctx, job.WorkspaceID, job.DocumentID); err != nil {
			p.logger.Warn("document processing failed",
				zap.String("document_id", job.DocumentID.String()), zap.Error(err))
		}
	}
}

// Process claims and executes one document's processing job. A duplicate
// claim (document not currently PENDING) returns CONFLICT and does nothing.
func (p *Processor) Process(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	claimed, err := p.repo.TransitionDocumentStatus(ctx, documentID, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		return ragerr.New(ragerr.Conflict, "document is not pending processing")
	}

	if err := p.process(ctx, workspaceID, documentID); err != nil {
		if failErr := p.repo.FailDocument(ctx, documentID, err.Error()); failErr != nil {
			p.logger.Error("failed to record document failure", zap.Error(failErr))
		}
		return err
	}
	return nil
}

func (p *Processor) process(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	doc, err := p.repo.GetDocument(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ragerr.New(ragerr.NotFound, "document not found")
	}

	reader, err := p.store.Get(ctx, doc.StorageKey)
	if err != nil {
		return ragerr.Wrap(ragerr.ServiceUnavailable, "download source document", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return ragerr.Wrap(ragerr.Internal, "read source document", err)
	}

	parser := p.selectParser(doc.MimeType)
	if parser == nil {
		return ragerr.New(ragerr.Validation, "no parser for mime type "+doc.MimeType)
	}
	text, err := parser.Extract(buf.Bytes())
	if err != nil {
		return ragerr.Wrap(ragerr.Internal, "extract document text", err)
	}
	text = normalize(text)

	pieces := chunking.Chunk(text, p.chunkParams)

	var embeddings [][]float32
	if len(pieces) > 0 {
		embeddings, err = p.embedder.EmbedBatch(ctx, pieces, embedding.TaskTypeDocument)
		if err != nil {
			return ragerr.Wrap(ragerr.ServiceUnavailable, "embed chunks", err)
		}
	}

	chunks := make([]domain.Chunk, len(pieces))
	for i, t := range pieces {
		chunks[i] = domain.Chunk{ID: uuid.New(), DocumentID: documentID, ChunkIndex: i, Content: t, Embedding: embeddings[i]}
	}

	var builtNodes []domain.Node
	if p.buildNodes && len(chunks) > 0 {
		builtNodes, err = nodes.Build(ctx, p.embedder, workspaceID, documentID, chunks, p.nodeParams)
		if err != nil {
			p.logger.Warn("node build failed during reprocess, proceeding without nodes",
				zap.String("document_id", documentID.String()), zap.Error(err))
			builtNodes = nil
		}
	}

	if err := p.repo.DeleteChunksForDocument(ctx, documentID); err != nil {
		return err
	}
	if err := p.repo.ReplaceChunksAndNodes(ctx, workspaceID, documentID, chunks, builtNodes); err != nil {
		return err
	}

	ok, err := p.repo.TransitionDocumentStatus(ctx, documentID, domain.StatusProcessing, domain.StatusReady)
	if err != nil {
		return err
	}
	if !ok {
		return ragerr.New(ragerr.Internal, "status changed unexpectedly during processing")
	}
	return nil
}

func (p *Processor) selectParser(mimeType string) Parser {
	for _, parser := range p.parsers {
		if parser.Supports(mimeType) {
			return parser
		}
	}
	return nil
}

// Reprocess re-queues an already-ingested document for admins only. It
// rejects PROCESSING documents with CONFLICT rather than racing the running
// job. A nil audit sink disables audit recording.
func Reprocess(ctx context.Context, repo repository.Repository, actor domain.Actor, documentID, workspaceID uuid.UUID, q queue.Port, auditSink audit.Sink) error {
	if actor.Role != domain.RoleAdmin {
		return ragerr.New(ragerr.Forbidden, "reprocess requires an admin actor")
	}
	doc, err := repo.GetDocument(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ragerr.New(ragerr.NotFound, "document not found")
	}
	if doc.Status == domain.StatusProcessing {
		return ragerr.New(ragerr.Conflict, "document is already processing")
	}

	ok, err := repo.TransitionDocumentStatus(ctx, documentID, doc.Status, domain.StatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return ragerr.New(ragerr.Conflict, "document status changed before reprocess could be queued")
	}

	if err := q.Enqueue(ctx, queue.Job{ID: uuid.New(), WorkspaceID: workspaceID, DocumentID: documentID}); err != nil {
		return err
	}

	if auditSink != nil {
		event := domain.AuditEvent{
			ID:       uuid.New(),
			Actor:    actor.UserID,
			Action:   "documents.reprocess",
			TargetID: documentID.String(),
			Metadata: map[string]any{
				"workspace_id": workspaceID.String(),
				"document_id":  documentID.String(),
			},
		}
		// Audit failures never fail the reprocess itself.
		_ = auditSink.Record(ctx, event)
	}
	return nil
}

// normalize strips null bytes and collapses horizontal whitespace runs while
// keeping line structure, so the chunker still sees paragraph boundaries.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}
