package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/embedding"
	"github.com/mau5law/ragcore/internal/metrics"
	"github.com/mau5law/ragcore/internal/rerank"
	"github.com/mau5law/ragcore/internal/repository"
)

func newTestEmbedder() embedding.Embedder {
	cache := embedding.NewInMemoryCache(time.Minute)
	return embedding.NewCachedEmbedder(embedding.NewFakeProvider(), cache, time.Hour, 1, time.Millisecond)
}

func seedWorkspaceWithChunks(t *testing.T, repo *repository.FakeRepository, embedder embedding.Embedder, n int) (uuid.UUID, domain.Actor) {
	t.Helper()
	ctx := context.Background()
	wsID := uuid.New()
	repo.PutWorkspace(domain.Workspace{ID: wsID, OwnerUserID: "owner", Visibility: domain.VisibilityPrivate})

	docID := uuid.New()
	chunks := make([]domain.Chunk, n)
	for i := 0; i < n; i++ {
		content := "passage about shipping policy number " + string(rune('a'+i))
		vec, err := embedder.EmbedQuery(ctx, content)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		chunks[i] = domain.Chunk{ID: uuid.New(), DocumentID: docID, ChunkIndex: i, Content: content, Embedding: vec}
	}
	if _, err := repo.SaveDocumentWithChunks(ctx, domain.Document{ID: docID, WorkspaceID: wsID, Title: "doc", Status: domain.StatusReady}, chunks, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	return wsID, domain.Actor{UserID: "owner", Role: domain.RoleEmployee}
}

func TestRetrieveUnauthorizedReturnsNotFound(t *testing.T) {
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := New(repo, embedder, rerank.HeuristicReranker{}, metrics.NoopRegistry())

	wsID, _ := seedWorkspaceWithChunks(t, repo, embedder, 2)
	stranger := domain.Actor{UserID: "stranger", Role: domain.RoleEmployee}

	_, err := pipeline.Retrieve(context.Background(), Request{Query: "shipping", WorkspaceID: wsID, Actor: stranger, TopK: 5, Options: DefaultOptions()})
	if err == nil {
		t.Fatal("expected an error for an unauthorized actor")
	}
}

func TestRetrieveCrossWorkspaceIsolation(t *testing.T) {
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := New(repo, embedder, rerank.HeuristicReranker{}, metrics.NoopRegistry())

	ws1, actor1 := seedWorkspaceWithChunks(t, repo, embedder, 3)
	ws2, _ := seedWorkspaceWithChunks(t, repo, embedder, 3)

	res, err := pipeline.Retrieve(context.Background(), Request{Query: "shipping policy", WorkspaceID: ws1, Actor: actor1, TopK: 10, Options: DefaultOptions()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range res.Chunks {
		doc, err := repo.GetDocument(context.Background(), ws1, c.DocumentID)
		if err != nil || doc == nil {
			t.Fatalf("chunk from retrieval in ws1 did not belong to ws1: %v", c)
		}
	}
	_ = ws2
}

// brokenFTSRepo wraps a FakeRepository with a full-text search that always
// fails, for exercising the sparse-branch fallback.
type brokenFTSRepo struct {
	*repository.FakeRepository
}

func (b brokenFTSRepo) FindChunksFullText(ctx context.Context, workspaceID uuid.UUID, query string, topK int) ([]repository.ChunkMatch, error) {
	return nil, errors.New("fts index unavailable")
}

func TestRetrieveHybridFallbackOnSparseFailure(t *testing.T) {
	fake := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	reg := metrics.NoopRegistry()
	pipeline := New(brokenFTSRepo{fake}, embedder, rerank.HeuristicReranker{}, reg)

	wsID, actor := seedWorkspaceWithChunks(t, fake, embedder, 3)
	opts := DefaultOptions()
	opts.Hybrid = true

	res, err := pipeline.Retrieve(context.Background(), Request{Query: "shipping", WorkspaceID: wsID, Actor: actor, TopK: 5, Options: opts})
	if err != nil {
		t.Fatalf("hybrid retrieval must never surface a sparse failure as an error: %v", err)
	}
	if len(res.Chunks) == 0 {
		t.Fatal("expected the dense branch to survive the sparse failure")
	}

	densePipeline := New(fake, embedder, rerank.HeuristicReranker{}, metrics.NoopRegistry())
	denseRes, err := densePipeline.Retrieve(context.Background(), Request{Query: "shipping", WorkspaceID: wsID, Actor: actor, TopK: 5, Options: DefaultOptions()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) != len(denseRes.Chunks) {
		t.Fatalf("hybrid with a broken sparse branch must equal pure dense: got %d vs %d", len(res.Chunks), len(denseRes.Chunks))
	}
	for i := range res.Chunks {
		if res.Chunks[i].ID != denseRes.Chunks[i].ID {
			t.Fatalf("chunk order diverged from pure dense at position %d", i)
		}
	}

	if got := testutil.ToFloat64(reg.RetrievalFallback.WithLabelValues("sparse")); got != 1 {
		t.Fatalf("expected retrieval_fallback{stage=sparse} == 1, got %v", got)
	}
}

func TestRetrieveTwoTierUsesNodeSpans(t *testing.T) {
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := New(repo, embedder, rerank.HeuristicReranker{}, metrics.NoopRegistry())
	ctx := context.Background()

	wsID := uuid.New()
	repo.PutWorkspace(domain.Workspace{ID: wsID, OwnerUserID: "owner", Visibility: domain.VisibilityPrivate})
	actor := domain.Actor{UserID: "owner", Role: domain.RoleEmployee}

	docID := uuid.New()
	var chunks []domain.Chunk
	for i := 0; i < 6; i++ {
		content := "chunk content variant " + string(rune('a'+i))
		vec, _ := embedder.EmbedQuery(ctx, content)
		chunks = append(chunks, domain.Chunk{ID: uuid.New(), DocumentID: docID, ChunkIndex: i, Content: content, Embedding: vec})
	}
	nodeText := chunks[3].Content + chunks[4].Content + chunks[5].Content
	nodeVec, _ := embedder.EmbedQuery(ctx, nodeText)
	nodes := []domain.Node{{ID: uuid.New(), WorkspaceID: wsID, DocumentID: docID, NodeIndex: 1, NodeText: nodeText, Embedding: nodeVec, SpanStart: 3, SpanEnd: 5}}

	if _, err := repo.SaveDocumentWithChunks(ctx, domain.Document{ID: docID, WorkspaceID: wsID, Title: "doc", Status: domain.StatusReady}, chunks, nodes); err != nil {
		t.Fatalf("save: %v", err)
	}

	opts := DefaultOptions()
	opts.TwoTier = true
	res, err := pipeline.Retrieve(ctx, Request{Query: nodeText, WorkspaceID: wsID, Actor: actor, TopK: 3, Options: opts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range res.Chunks {
		if c.ChunkIndex < 3 || c.ChunkIndex > 5 {
			t.Fatalf("two-tier retrieval returned a chunk outside the hit node's span: index %d", c.ChunkIndex)
		}
	}
}

func TestRetrieveTwoTierFallsBackToDenseWhenNoNodes(t *testing.T) {
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := New(repo, embedder, rerank.HeuristicReranker{}, metrics.NoopRegistry())

	wsID, actor := seedWorkspaceWithChunks(t, repo, embedder, 3)
	opts := DefaultOptions()
	opts.TwoTier = true

	res, err := pipeline.Retrieve(context.Background(), Request{Query: "shipping", WorkspaceID: wsID, Actor: actor, TopK: 5, Options: opts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) == 0 {
		t.Fatal("expected a dense fallback result when no nodes exist")
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := New(repo, embedder, rerank.HeuristicReranker{}, metrics.NoopRegistry())

	wsID, actor := seedWorkspaceWithChunks(t, repo, embedder, 8)
	res, err := pipeline.Retrieve(context.Background(), Request{Query: "shipping", WorkspaceID: wsID, Actor: actor, TopK: 3, Options: DefaultOptions()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) > 3 {
		t.Fatalf("expected at most 3 chunks, got %d", len(res.Chunks))
	}
}
