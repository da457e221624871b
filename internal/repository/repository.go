// Package repository implements the workspace-scoped document/chunk/node
// store over PostgreSQL + pgvector, plus an in-memory fake with the same
// scoping and dedup rules for tests.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
)

// SortKey selects the ordering for ListDocuments.
type SortKey string

const (
	SortCreatedAtDesc SortKey = "created_at_desc"
	SortCreatedAtAsc  SortKey = "created_at_asc"
	SortTitleAsc      SortKey = "title_asc"
	SortTitleDesc     SortKey = "title_desc"
)

// ListFilters narrows ListDocuments.
type ListFilters struct {
	Query  string
	Status domain.DocumentStatus
	Tag    string
	Sort   SortKey
}

// ChunkMatch is a chunk annotated with its retrieval score.
type ChunkMatch struct {
	Chunk domain.Chunk
	Score float64
}

// NodeMatch is a node annotated with its retrieval score.
type NodeMatch struct {
	Node  domain.Node
	Score float64
}

// NodeSpan identifies a contiguous chunk-index range within one document.
type NodeSpan struct {
	DocumentID uuid.UUID
	SpanStart  int
	SpanEnd    int
}

// Repository is the workspace-scoped document store port. Every read and
// search method takes workspaceID explicitly so cross-workspace access is
// impossible by construction; there is no "global" query. The status and
// delete methods for a known document take only its documentID.
type Repository interface {
	SaveDocumentWithChunks(ctx context.Context, doc domain.Document, chunks []domain.Chunk, nodes []domain.Node) (domain.Document, error)
	GetDocumentByContentHash(ctx context.Context, workspaceID uuid.UUID, hash string) (*domain.Document, error)
	GetDocument(ctx context.Context, workspaceID, documentID uuid.UUID) (*domain.Document, error)
	ListDocuments(ctx context.Context, workspaceID uuid.UUID, limit, offset int, filters ListFilters) ([]domain.Document, error)

	FindSimilarChunks(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int) ([]ChunkMatch, error)
	FindSimilarChunksMMR(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int, lambda float64, poolSize int) ([]ChunkMatch, error)
	FindChunksFullText(ctx context.Context, workspaceID uuid.UUID, query string, topK int) ([]ChunkMatch, error)
	FindSimilarNodes(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int) ([]NodeMatch, error)
	FindChunksByNodeSpans(ctx context.Context, workspaceID uuid.UUID, spans []NodeSpan) ([]domain.Chunk, error)

	TransitionDocumentStatus(ctx context.Context, documentID uuid.UUID, from, to domain.DocumentStatus) (bool, error)
	FailDocument(ctx context.Context, documentID uuid.UUID, errorMessage string) error
	DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error
	// ReplaceChunksAndNodes inserts chunks/nodes for a document that already
	// exists, used by reprocessing after DeleteChunksForDocument. Unlike
	// SaveDocumentWithChunks it never inserts a document row.
	ReplaceChunksAndNodes(ctx context.Context, workspaceID, documentID uuid.UUID, chunks []domain.Chunk, nodes []domain.Node) error

	GetWorkspace(ctx context.Context, workspaceID uuid.UUID) (*domain.Workspace, error)
	ListACL(ctx context.Context, workspaceID uuid.UUID) ([]domain.ACLEntry, error)
}
