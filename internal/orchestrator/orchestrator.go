package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mau5law/ragcore/internal/audit"
	ctxbuild "github.com/mau5law/ragcore/internal/context"
	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/llmport"
	"github.com/mau5law/ragcore/internal/metrics"
	"github.com/mau5law/ragcore/internal/ragerr"
	"github.com/mau5law/ragcore/internal/retrieval"
	"github.com/mau5law/ragcore/internal/rewrite"
)

// refusalMessage is the stock answer returned when retrieval evidence is
// insufficient.
const refusalMessage = "No tengo evidencia suficiente para responder con confianza. / I don't have enough evidence to answer confidently."

// Request is the orchestrator's input for one conversational turn.
type Request struct {
	ConversationID uuid.UUID
	WorkspaceID    uuid.UUID
	Actor          domain.Actor
	Query          string
	TopK           int
	RetrievalOpts  retrieval.Options
	GenParams      llmport.GenerateRequest
	Stream         bool
}

// Answer is the orchestrator's output.
type Answer struct {
	Text     string
	Chunks   []domain.Chunk
	Refused  bool
	Metadata map[string]any
}

// StreamAnswer is returned from AnswerStream: Tokens yields partial text;
// once it closes, Final carries the settled Answer (chunks, metadata).
// Consumers that stop draining Tokens early (client disconnect) must cancel
// ctx so the underlying generation is released promptly.
type StreamAnswer struct {
	Tokens <-chan llmport.Token
	Final  func() Answer
}

// Orchestrator wires rewrite -> retrieve -> assemble -> generate -> audit.
type Orchestrator struct {
	conversations *Store
	rewriter      *rewrite.Rewriter
	retrieval     *retrieval.Pipeline
	generator     llmport.Generator
	auditSink     audit.Sink
	metrics       *metrics.Registry
	budget        ctxbuild.Budget
	logger        *zap.Logger
}

// New builds an Orchestrator. A nil logger defaults to zap.NewNop(); a nil
// metrics registry defaults to an unregistered no-op registry.
func New(conversations *Store, rewriter *rewrite.Rewriter, retrievalPipeline *retrieval.Pipeline, generator llmport.Generator, auditSink audit.Sink, reg *metrics.Registry, budget ctxbuild.Budget, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = metrics.NoopRegistry()
	}
	if budget.MaxChars <= 0 {
		budget.MaxChars = 8000
	}
	return &Orchestrator{
		conversations: conversations,
		rewriter:      rewriter,
		retrieval:     retrievalPipeline,
		generator:     generator,
		auditSink:     auditSink,
		metrics:       reg,
		budget:        budget,
		logger:        logger,
	}
}

// prepare runs the shared steps common to Answer and AnswerStream: append
// the turn, rewrite, retrieve, and assemble context. It returns a non-nil
// *Answer only when the caller should short-circuit with a policy refusal.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (ctxbuild.Result, rewrite.Result, *Answer, error) {
	o.conversations.Append(req.ConversationID, domain.ConversationMessage{Role: domain.ConversationUser, Content: req.Query})
	history := o.conversations.History(req.ConversationID)
	// Exclude the turn we just appended from the rewriter's own history view.
	if len(history) > 0 {
		history = history[:len(history)-1]
	}

	rewriteResult := o.rewriter.Rewrite(req.Query, history)

	retrievalResult, err := o.retrieval.Retrieve(ctx, retrieval.Request{
		Query:       rewriteResult.RewrittenQuery,
		WorkspaceID: req.WorkspaceID,
		Actor:       req.Actor,
		TopK:        req.TopK,
		Options:     req.RetrievalOpts,
	})
	if err != nil {
		return ctxbuild.Result{}, rewriteResult, nil, err
	}

	assembled := ctxbuild.Build(retrievalResult.Chunks, o.budget)
	if assembled.ChunksUsed == 0 {
		o.metrics.AnswerWithoutSources.Inc()
		o.metrics.PolicyRefusal.WithLabelValues("insufficient_evidence").Inc()
		o.recordAudit(ctx, req, "rag.refusal", map[string]any{"reason": "insufficient_evidence"})
		refusal := &Answer{
			Text:    refusalMessage,
			Chunks:  nil,
			Refused: true,
			Metadata: map[string]any{
				"original_query":  rewriteResult.OriginalQuery,
				"rewritten_query": rewriteResult.RewrittenQuery,
				"rewrite_applied": rewriteResult.WasRewritten,
				"sources_count":   0,
			},
		}
		return ctxbuild.Result{}, rewriteResult, refusal, nil
	}

	return assembled, rewriteResult, nil, nil
}

// Answer runs the non-streaming flow.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Answer, error) {
	assembled, rewriteResult, refusal, err := o.prepare(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	if refusal != nil {
		return *refusal, nil
	}

	genReq := req.GenParams
	genReq.Prompt = buildPrompt(rewriteResult.RewrittenQuery, assembled.Context)
	text, err := o.generator.Generate(ctx, genReq)
	if err != nil {
		return Answer{}, ragerr.Wrap(ragerr.ServiceUnavailable, "generate answer", err)
	}

	chunks := chunksFromRetrieval(assembled)
	o.recordAudit(ctx, req, "rag.answer", map[string]any{"sources_count": assembled.ChunksUsed})

	return Answer{
		Text:   text,
		Chunks: chunks,
		Metadata: map[string]any{
			"original_query":  rewriteResult.OriginalQuery,
			"rewritten_query": rewriteResult.RewrittenQuery,
			"rewrite_applied": rewriteResult.WasRewritten,
			"sources_count":   assembled.ChunksUsed,
		},
	}, nil
}

// AnswerStream runs the streaming flow. The returned channel is always
// closed by the underlying generator; callers that abandon it early must
// cancel ctx to release the upstream generation.
func (o *Orchestrator) AnswerStream(ctx context.Context, req Request) (StreamAnswer, error) {
	assembled, rewriteResult, refusal, err := o.prepare(ctx, req)
	if err != nil {
		return StreamAnswer{}, err
	}
	if refusal != nil {
		tokens := make(chan llmport.Token, 1)
		tokens <- llmport.Token{Text: refusal.Text, Done: true}
		close(tokens)
		final := *refusal
		return StreamAnswer{Tokens: tokens, Final: func() Answer { return final }}, nil
	}

	genReq := req.GenParams
	genReq.Prompt = buildPrompt(rewriteResult.RewrittenQuery, assembled.Context)
	stream, err := o.generator.GenerateStream(ctx, genReq)
	if err != nil {
		return StreamAnswer{}, ragerr.Wrap(ragerr.ServiceUnavailable, "start streaming generation", err)
	}

	chunks := chunksFromRetrieval(assembled)
	sourcesCount := assembled.ChunksUsed

	return StreamAnswer{
		Tokens: stream,
		Final: func() Answer {
			o.recordAudit(ctx, req, "rag.answer", map[string]any{"sources_count": sourcesCount})
			return Answer{
				Chunks: chunks,
				Metadata: map[string]any{
					"original_query":  rewriteResult.OriginalQuery,
					"rewritten_query": rewriteResult.RewrittenQuery,
					"rewrite_applied": rewriteResult.WasRewritten,
					"sources_count":   sourcesCount,
				},
			}
		},
	}, nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, req Request, action string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["workspace_id"] = req.WorkspaceID.String()
	metadata["conversation_id"] = req.ConversationID.String()
	if err := o.auditSink.Record(ctx, domain.AuditEvent{
		ID:       uuid.New(),
		Actor:    req.Actor.UserID,
		Action:   action,
		TargetID: req.WorkspaceID.String(),
		Metadata: metadata,
	}); err != nil {
		o.logger.Warn("failed to record audit event", zap.String("action", action), zap.Error(err))
	}
}

func buildPrompt(query, context string) string {
	return "Based on the following retrieved context, answer the user's question. " +
		"If the context does not support an answer, say so.\n\nContext:\n" + context + "\n\nQuestion: " + query + "\n\nAnswer:"
}

func chunksFromRetrieval(assembled ctxbuild.Result) []domain.Chunk {
	return assembled.UsedChunks
}
