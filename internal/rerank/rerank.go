// Package rerank implements the reranker port: a heuristic keyword-overlap
// fallback plus a pluggable cross-encoder client. Rerankers reorder and may
// narrow a candidate list, never invent entries.
package rerank

import (
	"context"
	"sort"
	"strings"

	"github.com/mau5law/ragcore/internal/domain"
)

// Mode names which strategy produced a RerankResult.
type Mode string

const (
	ModeHeuristic     Mode = "heuristic"
	ModeCrossEncoder  Mode = "cross_encoder"
)

// Result is the reranker's output envelope.
type Result struct {
	Chunks        []domain.Chunk
	OriginalCount int
	ReturnedCount int
	ModeUsed      Mode
}

// Reranker reorders (and may narrow) a candidate chunk list for a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []domain.Chunk, topK int) (Result, error)
}

// CrossEncoderClient is the external scoring model port. A real
// implementation calls out to a hosted cross-encoder; ScoreBatch returns one
// relevance score per (query, chunk) pair, order preserved.
type CrossEncoderClient interface {
	ScoreBatch(ctx context.Context, query string, chunkTexts []string) ([]float64, error)
}

// HeuristicReranker scores candidates by normalized keyword overlap between
// the query and chunk content; a dependency-free fallback when no
// cross-encoder is configured, or when one fails.
type HeuristicReranker struct{}

func (HeuristicReranker) Rerank(ctx context.Context, query string, chunks []domain.Chunk, topK int) (Result, error) {
	queryTerms := tokenize(query)
	type scored struct {
		chunk domain.Chunk
		score float64
	}
	candidates := make([]scored, len(chunks))
	for i, c := range chunks {
		candidates[i] = scored{chunk: c, score: overlapScore(queryTerms, tokenize(c.Content))}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]domain.Chunk, topK)
	for i := 0; i < topK; i++ {
		out[i] = candidates[i].chunk
	}
	return Result{Chunks: out, OriginalCount: len(chunks), ReturnedCount: len(out), ModeUsed: ModeHeuristic}, nil
}

// CrossEncoderReranker delegates scoring to an external model. It does not
// degrade on its own; callers that want graceful degradation catch its error
// and bypass rerank, which is what internal/retrieval does.
type CrossEncoderReranker struct {
	Client CrossEncoderClient
}

func (r CrossEncoderReranker) Rerank(ctx context.Context, query string, chunks []domain.Chunk, topK int) (Result, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	scores, err := r.Client.ScoreBatch(ctx, query, texts)
	if err != nil {
		return Result{}, err
	}

	type scored struct {
		chunk domain.Chunk
		score float64
	}
	candidates := make([]scored, len(chunks))
	for i, c := range chunks {
		candidates[i] = scored{chunk: c, score: scores[i]}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]domain.Chunk, topK)
	for i := 0; i < topK; i++ {
		out[i] = candidates[i].chunk
	}
	return Result{Chunks: out, OriginalCount: len(chunks), ReturnedCount: len(out), ModeUsed: ModeCrossEncoder}, nil
}

func tokenize(text string) map[string]int {
	terms := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			terms[w]++
		}
	}
	return terms
}

func overlapScore(query, doc map[string]int) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	var overlap int
	for term, qc := range query {
		if dc, ok := doc[term]; ok {
			if qc < dc {
				overlap += qc
			} else {
				overlap += dc
			}
		}
	}
	return float64(overlap) / float64(len(query))
}

var (
	_ Reranker = HeuristicReranker{}
	_ Reranker = CrossEncoderReranker{}
)
