// Package nodes groups consecutive chunks into coarse "nodes" for two-tier
// retrieval: each node concatenates a fixed-size run of chunks, records the
// chunk-index span it covers, and carries its own embedding.
package nodes

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
	"github.com/mau5law/ragcore/internal/embedding"
)

const (
	DefaultGroupSize = 3
	DefaultMaxChars  = 4000
)

// Params configures node grouping.
type Params struct {
	GroupSize int
	MaxChars  int
}

// DefaultParams returns the default node-building parameters.
func DefaultParams() Params {
	return Params{GroupSize: DefaultGroupSize, MaxChars: DefaultMaxChars}
}

// Build groups ordered chunks into nodes and embeds every node text in a
// single batch call.
func Build(ctx context.Context, embedder embedding.Embedder, workspaceID, documentID uuid.UUID, chunks []domain.Chunk, p Params) ([]domain.Node, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if p.GroupSize <= 0 {
		p.GroupSize = DefaultGroupSize
	}
	if p.MaxChars <= 0 {
		p.MaxChars = DefaultMaxChars
	}

	type draft struct {
		text      string
		spanStart int
		spanEnd   int
	}

	var drafts []draft
	for i := 0; i < len(chunks); i += p.GroupSize {
		end := i + p.GroupSize
		if end > len(chunks) {
			end = len(chunks)
		}
		group := chunks[i:end]

		var b strings.Builder
		for _, c := range group {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(c.Content)
			if b.Len() >= p.MaxChars {
				break
			}
		}
		text := b.String()
		if len(text) > p.MaxChars {
			cut := p.MaxChars
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}

		drafts = append(drafts, draft{
			text:      text,
			spanStart: group[0].ChunkIndex,
			spanEnd:   group[len(group)-1].ChunkIndex,
		})
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.text
	}

	embeddings, err := embedder.EmbedBatch(ctx, texts, embedding.TaskTypeNode)
	if err != nil {
		return nil, err
	}

	result := make([]domain.Node, len(drafts))
	for i, d := range drafts {
		result[i] = domain.Node{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			DocumentID:  documentID,
			NodeIndex:   i,
			NodeText:    d.text,
			Embedding:   embeddings[i],
			SpanStart:   d.spanStart,
			SpanEnd:     d.spanEnd,
		}
	}
	return result, nil
}
