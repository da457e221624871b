package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mau5law/ragcore/internal/audit"
	ctxbuild "github.com/mau5law/ragcore/internal/context"
	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/embedding"
	"github.com/mau5law/ragcore/internal/llmport"
	"github.com/mau5law/ragcore/internal/metrics"
	"github.com/mau5law/ragcore/internal/retrieval"
	"github.com/mau5law/ragcore/internal/rerank"
	"github.com/mau5law/ragcore/internal/repository"
	"github.com/mau5law/ragcore/internal/rewrite"
)

func newTestEmbedder() embedding.Embedder {
	cache := embedding.NewInMemoryCache(time.Minute)
	return embedding.NewCachedEmbedder(embedding.NewFakeProvider(), cache, time.Hour, 1, time.Millisecond)
}

func buildOrchestrator(t *testing.T, reg *metrics.Registry) (*Orchestrator, *repository.FakeRepository, uuid.UUID, domain.Actor) {
	t.Helper()
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := retrieval.New(repo, embedder, rerank.HeuristicReranker{}, reg)
	sink := audit.NewInMemorySink()

	wsID := uuid.New()
	repo.PutWorkspace(domain.Workspace{ID: wsID, OwnerUserID: "owner", Visibility: domain.VisibilityPrivate})
	actor := domain.Actor{UserID: "owner", Role: domain.RoleEmployee}

	o := New(NewStore(0), rewrite.New(), pipeline, llmport.NewFakeGenerator(""), sink, reg, ctxbuild.Budget{MaxChars: 4000}, nil)
	return o, repo, wsID, actor
}

func seedChunk(t *testing.T, repo *repository.FakeRepository, embedder embedding.Embedder, wsID uuid.UUID, content string) {
	t.Helper()
	ctx := context.Background()
	vec, err := embedder.EmbedQuery(ctx, content)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	docID := uuid.New()
	chunk := domain.Chunk{ID: uuid.New(), DocumentID: docID, ChunkIndex: 0, Content: content, Embedding: vec}
	if _, err := repo.SaveDocumentWithChunks(ctx, domain.Document{ID: docID, WorkspaceID: wsID, Title: "doc", Status: domain.StatusReady}, []domain.Chunk{chunk}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestAnswerReturnsCitedAnswerWhenEvidenceExists(t *testing.T) {
	reg := metrics.NoopRegistry()
	o, repo, wsID, actor := buildOrchestrator(t, reg)
	embedder := newTestEmbedder()
	seedChunk(t, repo, embedder, wsID, "the refund window is 30 days from purchase")

	ans, err := o.Answer(context.Background(), Request{
		ConversationID: uuid.New(),
		WorkspaceID:    wsID,
		Actor:          actor,
		Query:          "refund window",
		TopK:           5,
		RetrievalOpts:  retrieval.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Refused {
		t.Fatal("expected a non-refusal answer when evidence exists")
	}
	if len(ans.Chunks) == 0 {
		t.Fatal("expected at least one cited chunk")
	}
	if ans.Metadata["original_query"] != "refund window" {
		t.Fatalf("expected original_query preserved in metadata, got %v", ans.Metadata["original_query"])
	}
}

func TestAnswerRefusesWhenNoEvidence(t *testing.T) {
	reg := metrics.NoopRegistry()
	o, _, wsID, actor := buildOrchestrator(t, reg)

	ans, err := o.Answer(context.Background(), Request{
		ConversationID: uuid.New(),
		WorkspaceID:    wsID,
		Actor:          actor,
		Query:          "anything at all",
		TopK:           5,
		RetrievalOpts:  retrieval.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ans.Refused {
		t.Fatal("expected a policy refusal when retrieval yields no chunks")
	}
	if len(ans.Chunks) != 0 {
		t.Fatal("a refusal must carry zero citations")
	}
	if got := testutil.ToFloat64(reg.PolicyRefusal.WithLabelValues("insufficient_evidence")); got != 1 {
		t.Fatalf("expected policy refusal counter to increment, got %v", got)
	}
	if got := testutil.ToFloat64(reg.AnswerWithoutSources); got != 1 {
		t.Fatalf("expected answer-without-sources counter to increment, got %v", got)
	}
}

func TestAnswerRecordsAuditEvent(t *testing.T) {
	reg := metrics.NoopRegistry()
	repo := repository.NewFakeRepository()
	embedder := newTestEmbedder()
	pipeline := retrieval.New(repo, embedder, rerank.HeuristicReranker{}, reg)
	sink := audit.NewInMemorySink()
	wsID := uuid.New()
	repo.PutWorkspace(domain.Workspace{ID: wsID, OwnerUserID: "owner", Visibility: domain.VisibilityPrivate})
	actor := domain.Actor{UserID: "owner", Role: domain.RoleEmployee}
	seedChunk(t, repo, embedder, wsID, "operating hours are nine to five")

	o := New(NewStore(0), rewrite.New(), pipeline, llmport.NewFakeGenerator(""), sink, reg, ctxbuild.Budget{MaxChars: 4000}, nil)
	if _, err := o.Answer(context.Background(), Request{
		ConversationID: uuid.New(), WorkspaceID: wsID, Actor: actor, Query: "operating hours", TopK: 5, RetrievalOpts: retrieval.DefaultOptions(),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Action != "rag.answer" {
		t.Fatalf("expected one rag.answer audit event, got %+v", events)
	}
}

func TestAnswerStreamEmitsTokensAndClosesChannel(t *testing.T) {
	reg := metrics.NoopRegistry()
	o, repo, wsID, actor := buildOrchestrator(t, reg)
	embedder := newTestEmbedder()
	seedChunk(t, repo, embedder, wsID, "shipping takes three to five business days")

	stream, err := o.AnswerStream(context.Background(), Request{
		ConversationID: uuid.New(), WorkspaceID: wsID, Actor: actor, Query: "shipping", TopK: 5, RetrievalOpts: retrieval.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tokenCount int
	for range stream.Tokens {
		tokenCount++
	}
	if tokenCount == 0 {
		t.Fatal("expected at least one streamed token")
	}
	final := stream.Final()
	if len(final.Chunks) == 0 {
		t.Fatal("expected citations in the final streamed answer")
	}
}

func TestConversationHistoryFeedsRewriter(t *testing.T) {
	reg := metrics.NoopRegistry()
	o, repo, wsID, actor := buildOrchestrator(t, reg)
	embedder := newTestEmbedder()
	seedChunk(t, repo, embedder, wsID, "refunds take fourteen days to process")

	convID := uuid.New()
	if _, err := o.Answer(context.Background(), Request{
		ConversationID: convID, WorkspaceID: wsID, Actor: actor, Query: "how do refunds work?", TopK: 5, RetrievalOpts: retrieval.DefaultOptions(),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history := o.conversations.History(convID)
	if len(history) == 0 {
		t.Fatal("expected the first turn to be recorded in conversation history")
	}

	ans, err := o.Answer(context.Background(), Request{
		ConversationID: convID, WorkspaceID: wsID, Actor: actor, Query: "how long does it take?", TopK: 5, RetrievalOpts: retrieval.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Metadata["rewrite_applied"] != true {
		t.Fatalf("expected the anaphoric follow-up to trigger a rewrite, got %v", ans.Metadata)
	}
	if ans.Metadata["original_query"] != "how long does it take?" {
		t.Fatal("original query must be preserved in metadata even when rewritten")
	}
}
