package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
)

func seedWorkspace(f *FakeRepository) domain.Workspace {
	w := domain.Workspace{
		ID:          uuid.New(),
		Name:        "acme",
		OwnerUserID: "user-1",
		Visibility:  domain.VisibilityPrivate,
		FTSLanguage: domain.FTSSpanish,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	f.PutWorkspace(w)
	return w
}

func vec(seed float32) []float32 {
	v := make([]float32, domain.EmbeddingDimension)
	v[0] = seed
	return v
}

func TestSaveDocumentWithChunksRejectsBadEmbeddingDimension(t *testing.T) {
	repo := NewFakeRepository()
	ws := seedWorkspace(repo)
	doc := domain.Document{ID: uuid.New(), WorkspaceID: ws.ID, Title: "d1", Status: domain.StatusReady}
	chunks := []domain.Chunk{{ID: uuid.New(), DocumentID: doc.ID, ChunkIndex: 0, Content: "hi", Embedding: []float32{0.1, 0.2}}}

	_, err := repo.SaveDocumentWithChunks(context.Background(), doc, chunks, nil)
	if err == nil {
		t.Fatal("expected validation error for wrong embedding dimension")
	}
}

func TestSaveDocumentWithChunksDedupReturnsSameDocument(t *testing.T) {
	repo := NewFakeRepository()
	ws := seedWorkspace(repo)
	hash := "abc123"

	doc1 := domain.Document{ID: uuid.New(), WorkspaceID: ws.ID, Title: "d1", Status: domain.StatusReady, ContentHash: &hash}
	chunks1 := []domain.Chunk{{ID: uuid.New(), DocumentID: doc1.ID, ChunkIndex: 0, Content: "hi", Embedding: vec(1)}}
	saved1, err := repo.SaveDocumentWithChunks(context.Background(), doc1, chunks1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc2 := domain.Document{ID: uuid.New(), WorkspaceID: ws.ID, Title: "d1-again", Status: domain.StatusReady, ContentHash: &hash}
	chunks2 := []domain.Chunk{{ID: uuid.New(), DocumentID: doc2.ID, ChunkIndex: 0, Content: "hi", Embedding: vec(1)}}
	saved2, err := repo.SaveDocumentWithChunks(context.Background(), doc2, chunks2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if saved1.ID != saved2.ID {
		t.Fatalf("expected dedup to return the same document, got %s and %s", saved1.ID, saved2.ID)
	}
}

func TestFindSimilarChunksIsWorkspaceScoped(t *testing.T) {
	repo := NewFakeRepository()
	wsA := seedWorkspace(repo)
	wsB := seedWorkspace(repo)

	docA := domain.Document{ID: uuid.New(), WorkspaceID: wsA.ID, Title: "a", Status: domain.StatusReady}
	docB := domain.Document{ID: uuid.New(), WorkspaceID: wsB.ID, Title: "b", Status: domain.StatusReady}

	if _, err := repo.SaveDocumentWithChunks(context.Background(), docA, []domain.Chunk{
		{ID: uuid.New(), DocumentID: docA.ID, ChunkIndex: 0, Content: "alpha", Embedding: vec(1)},
	}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.SaveDocumentWithChunks(context.Background(), docB, []domain.Chunk{
		{ID: uuid.New(), DocumentID: docB.ID, ChunkIndex: 0, Content: "beta", Embedding: vec(1)},
	}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, err := repo.FindSimilarChunks(context.Background(), wsA.ID, vec(1), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly 1 match scoped to workspace A, got %d", len(matches))
	}
	if matches[0].Chunk.DocumentID != docA.ID {
		t.Fatalf("expected match to come from workspace A's document")
	}
}

func TestTransitionDocumentStatusIsCompareAndSwap(t *testing.T) {
	repo := NewFakeRepository()
	ws := seedWorkspace(repo)
	doc := domain.Document{ID: uuid.New(), WorkspaceID: ws.ID, Title: "d", Status: domain.StatusPending}
	if _, err := repo.SaveDocumentWithChunks(context.Background(), doc, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := repo.TransitionDocumentStatus(context.Background(), doc.ID, domain.StatusPending, domain.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("expected first transition to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = repo.TransitionDocumentStatus(context.Background(), doc.ID, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second transition from a stale 'from' state to fail")
	}
}

func TestFindChunksByNodeSpansOrdersByDocumentThenIndex(t *testing.T) {
	repo := NewFakeRepository()
	ws := seedWorkspace(repo)
	doc := domain.Document{ID: uuid.New(), WorkspaceID: ws.ID, Title: "d", Status: domain.StatusReady}
	chunks := []domain.Chunk{
		{ID: uuid.New(), DocumentID: doc.ID, ChunkIndex: 0, Content: "c0", Embedding: vec(1)},
		{ID: uuid.New(), DocumentID: doc.ID, ChunkIndex: 1, Content: "c1", Embedding: vec(1)},
		{ID: uuid.New(), DocumentID: doc.ID, ChunkIndex: 2, Content: "c2", Embedding: vec(1)},
	}
	if _, err := repo.SaveDocumentWithChunks(context.Background(), doc, chunks, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := repo.FindChunksByNodeSpans(context.Background(), ws.ID, []NodeSpan{{DocumentID: doc.ID, SpanStart: 0, SpanEnd: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].ChunkIndex != 0 || out[1].ChunkIndex != 1 {
		t.Fatalf("expected chunks 0 and 1 in order, got %+v", out)
	}
}
