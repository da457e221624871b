// Package context assembles a bounded, deduplicated, citation-framed
// context string from ranked chunks. Callers alias the import as ctxbuild
// to avoid shadowing the standard library's context package.
package context

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mau5law/ragcore/internal/domain"
)

// Budget bounds context assembly. The bound is expressed in characters, not
// tokens; character counts are tokenizer-independent and cheap to enforce.
// MaxChars bounds the framed chunk bodies only: the fixed-size sources
// trailer appended after them is not counted, so the final string can exceed
// MaxChars by the trailer's length.
type Budget struct {
	MaxChars int
}

// Result is the context builder's output.
type Result struct {
	Context    string
	ChunksUsed int
	// UsedChunks is the ordered, deduplicated subset of the input actually
	// included, so callers can report citations without re-deriving them.
	UsedChunks []domain.Chunk
}

var (
	forgedOpen  = regexp.MustCompile(`---\[S(\d+)\]---`)
	forgedClose = regexp.MustCompile(`---\[FIN S(\d+)\]---`)
)

// escapeForgedDelimiters neutralizes any content that would forge a citation
// frame, replacing the em-dash-free "---" delimiter with an em-dash variant.
// Arbitrary bracketed text (e.g. "[S1]" alone, without the "---" fencing) is
// left untouched.
func escapeForgedDelimiters(content string) string {
	content = forgedOpen.ReplaceAllString(content, "—[S$1]—")
	content = forgedClose.ReplaceAllString(content, "—[FIN S$1]—")
	return content
}

// Build assembles context from rankedChunks in order, stopping once the next
// chunk would exceed budget.MaxChars, deduplicating by chunk ID (first
// occurrence wins). The first chunk is always included, even when it alone
// exceeds the budget. Empty input returns ("", 0).
func Build(rankedChunks []domain.Chunk, budget Budget) Result {
	if len(rankedChunks) == 0 {
		return Result{}
	}

	seen := make(map[string]bool, len(rankedChunks))
	var bodies []string
	var sources []string
	var usedChunks []domain.Chunk
	used := 0
	total := 0

	for _, c := range rankedChunks {
		key := c.ID.String()
		if seen[key] {
			continue
		}

		idx := used + 1
		safeContent := escapeForgedDelimiters(c.Content)
		body := fmt.Sprintf(
			"---[S%d]---\ndocument_id: %s, chunk: %d\n%s\n---[FIN S%d]---\n",
			idx, c.DocumentID.String(), c.ChunkIndex+1, safeContent, idx,
		)

		if budget.MaxChars > 0 && total+len(body) > budget.MaxChars && used > 0 {
			break
		}

		seen[key] = true
		bodies = append(bodies, body)
		sources = append(sources, fmt.Sprintf("[S%d] document_id=%s chunk=%d", idx, c.DocumentID.String(), c.ChunkIndex+1))
		usedChunks = append(usedChunks, c)
		total += len(body)
		used++

		if budget.MaxChars > 0 && total >= budget.MaxChars {
			break
		}
	}

	if used == 0 {
		return Result{}
	}

	var out strings.Builder
	for _, b := range bodies {
		out.WriteString(b)
	}
	out.WriteString("FUENTES:\n")
	for _, s := range sources {
		out.WriteString(s)
		out.WriteString("\n")
	}

	return Result{Context: out.String(), ChunksUsed: used, UsedChunks: usedChunks}
}

// CitationCount reports how many "[S<n>]" frames open in ctx, for tests
// asserting that escaping leaves exactly one frame per included chunk.
func CitationCount(ctx string) int {
	matches := regexp.MustCompile(`^---\[S(\d+)\]---$`)
	n := 0
	for _, line := range strings.Split(ctx, "\n") {
		if matches.MatchString(line) {
			n++
		}
	}
	return n
}

// ParseCitationIndex extracts the numeric suffix from a "[S<n>]" style
// token, returning 0 if it does not match.
func ParseCitationIndex(token string) int {
	token = strings.TrimPrefix(token, "[S")
	token = strings.TrimSuffix(token, "]")
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0
	}
	return n
}
