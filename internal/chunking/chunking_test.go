package chunking

import (
	"strings"
	"testing"
)

func TestChunkRespectsMaxSize(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	p := Params{ChunkSize: 200, Overlap: 40}
	chunks := Chunk(text, p)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if len([]rune(c)) > p.ChunkSize {
			t.Fatalf("chunk exceeds max size: %d > %d", len([]rune(c)), p.ChunkSize)
		}
	}
}

func TestChunkEmptyInput(t *testing.T) {
	if got := Chunk("", DefaultParams()); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestChunkPrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50)
	p := Params{ChunkSize: 60, Overlap: 20}
	chunks := Chunk(text, p)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if !strings.HasSuffix(chunks[0], strings.Repeat("a", 50)) {
		t.Fatalf("expected first chunk to end at paragraph break, got %q", chunks[0])
	}
}

func TestChunkDiscardsEmptyPieces(t *testing.T) {
	text := "   \n\n   "
	chunks := Chunk(text, DefaultParams())
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks from whitespace-only input, got %v", chunks)
	}
}

func TestChunkCoversEntireInput(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	p := Params{ChunkSize: 300, Overlap: 50}
	chunks := Chunk(text, p)

	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c)
		rebuilt.WriteByte(' ')
	}
	collapse := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	if !strings.Contains(collapse(rebuilt.String()), collapse(text)[:50]) {
		t.Fatalf("expected chunk concatenation to cover input start")
	}
}
