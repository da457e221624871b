package embedding

import (
	"context"
	"hash/fnv"
	"sync/atomic"

	"github.com/mau5law/ragcore/internal/domain"
)

// FakeProvider is a deterministic provider for tests and CI: the same text
// always yields the same vector, with no network calls.
type FakeProvider struct {
	Dim   int
	calls int64 // number of EmbedBatch invocations, for cache-hit assertions
}

// NewFakeProvider builds a fake with the global embedding dimension.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Dim: domain.EmbeddingDimension}
}

func (f *FakeProvider) ModelID() string { return "fake-embed-v1" }

func (f *FakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *FakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&f.calls, 1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, f.Dim)
	}
	return out, nil
}

// Calls returns the number of EmbedBatch invocations made so far.
func (f *FakeProvider) Calls() int64 { return atomic.LoadInt64(&f.calls) }

func deterministicVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>40)%1000) / 1000.0
	}
	return v
}
