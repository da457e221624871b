package fusion

import (
	"testing"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/repository"
)

func chunkMatch(id uuid.UUID, score float64) repository.ChunkMatch {
	return repository.ChunkMatch{Chunk: domain.Chunk{ID: id}, Score: score}
}

func TestRRFEmptyInputYieldsEmptyOutput(t *testing.T) {
	if out := RRF(nil, 0); out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
}

func TestRRFIdempotentOnSingleRanking(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	dense := []repository.ChunkMatch{chunkMatch(a, 0.9), chunkMatch(b, 0.8), chunkMatch(c, 0.7)}

	out := RRF([]Ranking{{Name: "dense", Matches: dense}}, DefaultK)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(out))
	}
	for i, m := range dense {
		want := 1.0 / float64(DefaultK+i+1)
		if out[i].Chunk.ID != m.Chunk.ID {
			t.Fatalf("fusing a single ranking must preserve its order: pos %d got %s want %s", i, out[i].Chunk.ID, m.Chunk.ID)
		}
		if out[i].Score != want {
			t.Fatalf("pos %d: score %v, want %v", i, out[i].Score, want)
		}
	}
}

func TestRRFMissingRankingContributesZero(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	dense := []Ranking{{Name: "dense", Matches: []repository.ChunkMatch{chunkMatch(a, 0.9), chunkMatch(b, 0.8)}}}
	sparse := []Ranking{{Name: "sparse", Matches: []repository.ChunkMatch{chunkMatch(a, 5)}}}

	denseOnly := RRF(dense, DefaultK)
	both := RRF(append(dense, sparse...), DefaultK)

	// b only appears in dense; its score must be unaffected by sparse's absence.
	var bDenseOnly, bBoth float64
	for _, f := range denseOnly {
		if f.Chunk.ID == b {
			bDenseOnly = f.Score
		}
	}
	for _, f := range both {
		if f.Chunk.ID == b {
			bBoth = f.Score
		}
	}
	if bDenseOnly != bBoth {
		t.Fatalf("b's score should be identical whether or not sparse ran: %v vs %v", bDenseOnly, bBoth)
	}
}

func TestRRFDescendingOrderAndDedup(t *testing.T) {
	shared := uuid.New()
	other1, other2 := uuid.New(), uuid.New()

	dense := Ranking{Name: "dense", Matches: []repository.ChunkMatch{chunkMatch(shared, 0.95), chunkMatch(other1, 0.5)}}
	sparse := Ranking{Name: "sparse", Matches: []repository.ChunkMatch{chunkMatch(shared, 10), chunkMatch(other2, 3)}}

	out := RRF([]Ranking{dense, sparse}, DefaultK)

	seen := map[uuid.UUID]bool{}
	for _, f := range out {
		if seen[f.Chunk.ID] {
			t.Fatalf("duplicate chunk %s in fused output", f.Chunk.ID)
		}
		seen[f.Chunk.ID] = true
	}
	if out[0].Chunk.ID != shared {
		t.Fatalf("chunk present in both rankings should rank first, got %s", out[0].Chunk.ID)
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Score < out[i].Score {
			t.Fatalf("fused output not descending at %d", i)
		}
	}
}
