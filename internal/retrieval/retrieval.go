// Package retrieval runs a query through dense vector search, optional
// sparse full-text search, reciprocal-rank fusion, an optional two-tier
// node lookup, optional reranking, and an injection filter, producing a
// ranked chunk list bounded by top-k.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/embedding"
	"github.com/mau5law/ragcore/internal/fusion"
	"github.com/mau5law/ragcore/internal/metrics"
	"github.com/mau5law/ragcore/internal/policy"
	"github.com/mau5law/ragcore/internal/ragerr"
	"github.com/mau5law/ragcore/internal/rerank"
	"github.com/mau5law/ragcore/internal/repository"
	"github.com/mau5law/ragcore/internal/safety"
)

// InjectionMode re-exports safety.Mode under the name retrieval options use.
type InjectionMode = safety.Mode

const (
	InjectionOff      = safety.ModeOff
	InjectionDownrank = safety.ModeDownrank
	InjectionExclude  = safety.ModeExclude
)

// Options configures one retrieval call.
type Options struct {
	Hybrid             bool
	TwoTier            bool
	Rerank             bool
	MMR                bool
	NodeTopK           int
	PoolSize           int
	Lambda             float64
	InjectionMode      InjectionMode
	InjectionThreshold float64
}

// DefaultOptions returns the pipeline's default knobs.
func DefaultOptions() Options {
	return Options{
		NodeTopK:           4,
		PoolSize:           40,
		Lambda:             0.5,
		InjectionMode:      InjectionDownrank,
		InjectionThreshold: safety.DefaultRiskThreshold,
	}
}

// Request is the retrieval pipeline's input.
type Request struct {
	Query       string
	WorkspaceID uuid.UUID
	Actor       domain.Actor
	TopK        int
	Options     Options
}

// Result is the retrieval pipeline's output: a ranked, deduplicated chunk
// list plus the score each was retrieved with.
type Result struct {
	Chunks []domain.Chunk
	Scores map[uuid.UUID]float64
}

// Pipeline wires the repository, embedder, and reranker together.
type Pipeline struct {
	repo     repository.Repository
	embedder embedding.Embedder
	reranker rerank.Reranker
	metrics  *metrics.Registry
}

// New builds a retrieval Pipeline. A nil metrics registry defaults to an
// unregistered no-op registry so callers that don't care about observability
// still get a working pipeline.
func New(repo repository.Repository, embedder embedding.Embedder, reranker rerank.Reranker, reg *metrics.Registry) *Pipeline {
	if reg == nil {
		reg = metrics.NoopRegistry()
	}
	return &Pipeline{repo: repo, embedder: embedder, reranker: reranker, metrics: reg}
}

// Retrieve runs the full pipeline: authorize, embed the query, search,
// optionally fuse with the sparse branch, rerank, filter, and truncate.
func (p *Pipeline) Retrieve(ctx context.Context, req Request) (Result, error) {
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
	// Cross-workspace / unauthorized access surfaces as NOT_FOUND, never
	// FORBIDDEN, so it cannot be used to probe workspace existence.
	if !policy.CanRead(*ws, req.Actor, acl) {
		return Result{}, ragerr.New(ragerr.NotFound, "workspace not found")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 8
	}
	opts := req.Options

	qEmbedding, err := p.timedEmbed(ctx, req.Query)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.ServiceUnavailable, "embed query", err)
	}

	var dense, sparse []repository.ChunkMatch

	if opts.TwoTier {
		dense, err = p.twoTierSearch(ctx, req.WorkspaceID, qEmbedding, opts, topK)
		if err != nil {
			return Result{}, err
		}
	}

	if opts.Hybrid {
		// Dense and sparse run concurrently and join here before fusion. A
		// two-tier hit above already stands in for the dense branch. A sparse
		// failure is recovered locally: the fallback counter is incremented
		// and the dense branch alone is fused.
		g, gctx := errgroup.WithContext(ctx)
		if dense == nil {
			g.Go(func() error {
				matches, denseErr := p.denseSearch(gctx, req.WorkspaceID, qEmbedding, opts, topK)
				if denseErr != nil {
					return denseErr
				}
				dense = matches
				return nil
			})
		}
		g.Go(func() error {
			timer := newStageTimer(p.metrics, "sparse")
			defer timer.observe()
			matches, sparseErr := p.repo.FindChunksFullText(gctx, req.WorkspaceID, req.Query, topK)
			if sparseErr != nil {
				p.metrics.RetrievalFallback.WithLabelValues("sparse").Inc()
				return nil // recovered locally; the sparse branch just stays empty
			}
			sparse = matches
			return nil
		})
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
	} else if dense == nil {
		dense, err = p.denseSearch(ctx, req.WorkspaceID, qEmbedding, opts, topK)
		if err != nil {
			return Result{}, err
		}
	}

	var fused []fusion.Fused
	if opts.Hybrid {
		timer := newStageTimer(p.metrics, "fusion")
		fused = fusion.RRF([]fusion.Ranking{
			{Name: "dense", Matches: dense},
			{Name: "sparse", Matches: sparse},
		}, fusion.DefaultK)
		timer.observe()
	} else {
		fused = fusion.RRF([]fusion.Ranking{{Name: "dense", Matches: dense}}, fusion.DefaultK)
	}

	chunks := make([]domain.Chunk, len(fused))
	scores := make(map[uuid.UUID]float64, len(fused))
	for i, f := range fused {
		chunks[i] = f.Chunk
		scores[f.Chunk.ID] = f.Score
	}

	if opts.Rerank && p.reranker != nil {
		timer := newStageTimer(p.metrics, "rerank")
		result, err := p.reranker.Rerank(ctx, req.Query, chunks, topK)
		timer.observe()
		if err != nil {
			p.metrics.RetrievalFallback.WithLabelValues("rerank").Inc()
		} else {
			chunks = result.Chunks
		}
	}

	chunks = safety.FilterChunks(chunks, opts.InjectionMode, opts.InjectionThreshold)

	if len(chunks) > topK {
		chunks = chunks[:topK]
	}

	return Result{Chunks: chunks, Scores: scores}, nil
}

func (p *Pipeline) timedEmbed(ctx context.Context, query string) ([]float32, error) {
	timer := newStageTimer(p.metrics, "dense") // dense stage latency includes query embedding
	defer timer.observe()
	return p.embedder.EmbedQuery(ctx, query)
}

func (p *Pipeline) denseSearch(ctx context.Context, workspaceID uuid.UUID, qEmbedding []float32, opts Options, topK int) ([]repository.ChunkMatch, error) {
	if opts.MMR {
		poolSize := opts.PoolSize
		if poolSize < topK {
			poolSize = topK
		}
		return p.repo.FindSimilarChunksMMR(ctx, workspaceID, qEmbedding, topK, opts.Lambda, poolSize)
	}
	return p.repo.FindSimilarChunks(ctx, workspaceID, qEmbedding, topK)
}

// twoTierSearch runs the 2-tier lookup: find candidate
// nodes, expand to their member chunks, then re-rank those chunks by cosine
// similarity to the query embedding. Returns nil (not an error) if no nodes
// exist, signaling the caller to fall back to standard dense search.
func (p *Pipeline) twoTierSearch(ctx context.Context, workspaceID uuid.UUID, qEmbedding []float32, opts Options, topK int) ([]repository.ChunkMatch, error) {
	nodeTopK := opts.NodeTopK
	if nodeTopK <= 0 {
		nodeTopK = 4
	}
	nodeMatches, err := p.repo.FindSimilarNodes(ctx, workspaceID, qEmbedding, nodeTopK)
	if err != nil {
		return nil, err
	}
	if len(nodeMatches) == 0 {
		return nil, nil
	}

	spans := make([]repository.NodeSpan, len(nodeMatches))
	for i, m := range nodeMatches {
		spans[i] = repository.NodeSpan{DocumentID: m.Node.DocumentID, SpanStart: m.Node.SpanStart, SpanEnd: m.Node.SpanEnd}
	}
	chunks, err := p.repo.FindChunksByNodeSpans(ctx, workspaceID, spans)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	matches := make([]repository.ChunkMatch, len(chunks))
	for i, c := range chunks {
		matches[i] = repository.ChunkMatch{Chunk: c, Score: cosineSimilarity(qEmbedding, c.Embedding)}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
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

type stageTimer struct {
	reg     *metrics.Registry
	stage   string
	started time.Time
}

func newStageTimer(reg *metrics.Registry, stage string) *stageTimer {
	return &stageTimer{reg: reg, stage: stage, started: time.Now()}
}

func (t *stageTimer) observe() {
	t.reg.StageLatencySeconds.WithLabelValues(t.stage).Observe(time.Since(t.started).Seconds())
}
