// Package fusion implements Reciprocal Rank Fusion over an arbitrary number
// of named, already-ordered chunk rankings. A chunk missing from a ranking
// contributes zero from that ranking; ties break on dense rank.
package fusion

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/repository"
)

// DefaultK is the RRF denominator constant.
const DefaultK = 60

// Ranking is one named, already-ordered list of chunk matches to fuse.
type Ranking struct {
	Name    string
	Matches []repository.ChunkMatch
}

// Fused is one chunk's aggregated result across every input ranking.
type Fused struct {
	Chunk      domain.Chunk
	Score      float64
	DenseRank  int // 1-based rank in the first ranking supplied, 0 if absent from it
}

// dedupKey is the chunk ID when present, else (document_id, chunk_index).
func dedupKey(c domain.Chunk) string {
	if c.ID != uuid.Nil {
		return "id:" + c.ID.String()
	}
	return "doc:" + c.DocumentID.String() + ":" + strconv.Itoa(c.ChunkIndex)
}

// RRF fuses rankings with the given k (DefaultK if k <= 0). Empty input
// yields empty output. Ties are broken by the dense rank recorded from the
// first ranking supplied, so callers should pass the dense branch first.
func RRF(rankings []Ranking, k int) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	type acc struct {
		chunk     domain.Chunk
		score     float64
		denseRank int
	}

	order := make([]string, 0)
	byKey := make(map[string]*acc)

	for i, ranking := range rankings {
		for rank, m := range ranking.Matches {
			key := dedupKey(m.Chunk)
			a, ok := byKey[key]
			if !ok {
				a = &acc{chunk: m.Chunk}
				byKey[key] = a
				order = append(order, key)
			}
			a.score += 1.0 / float64(k+rank+1)
			if i == 0 && a.denseRank == 0 {
				a.denseRank = rank + 1
			}
		}
	}
	if len(order) == 0 {
		return nil
	}

	out := make([]Fused, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		out = append(out, Fused{Chunk: a.chunk, Score: a.score, DenseRank: a.denseRank})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		di, dj := out[i].DenseRank, out[j].DenseRank
		if di == 0 {
			di = 1 << 30
		}
		if dj == 0 {
			dj = 1 << 30
		}
		return di < dj
	})
	return out
}
