// Package chunking splits text into overlapping windows, preferring a
// natural cut point near each window's end: paragraph break first, then
// line break, then sentence terminator, then the hard target.
package chunking

import "strings"

const (
	DefaultChunkSize = 900
	DefaultOverlap   = 120
)

// Params configures the chunker. Overlap must satisfy 0 <= Overlap < ChunkSize.
type Params struct {
	ChunkSize int
	Overlap   int
}

// DefaultParams returns the default chunking parameters.
func DefaultParams() Params {
	return Params{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Chunk splits text into trimmed, non-empty overlapping windows.
func Chunk(text string, p Params) []string {
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.Overlap < 0 || p.Overlap >= p.ChunkSize {
		p.Overlap = DefaultOverlap
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := p.ChunkSize - p.Overlap
	var chunks []string

	for start := 0; start < n; {
		hardEnd := start + p.ChunkSize
		if hardEnd >= n {
			piece := strings.TrimSpace(string(runes[start:n]))
			if piece != "" {
				chunks = append(chunks, piece)
			}
			break
		}

		cut := naturalCut(runes, start, hardEnd, p.Overlap)
		piece := strings.TrimSpace(string(runes[start:cut]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		next := start + step
		if cut > start && cut < hardEnd {
			// Natural boundary found: continue the overlap from that
			// boundary instead of the hard step so the window still covers
			// the text the boundary search skipped.
			next = cut - p.Overlap
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// naturalCut searches the last overlap-sized region of [start, hardEnd) for
// a natural cut point, in priority order: paragraph break, line break,
// sentence terminator, falling back to hardEnd.
func naturalCut(runes []rune, start, hardEnd, overlap int) int {
	if hardEnd >= len(runes) {
		return hardEnd
	}

	searchStart := hardEnd - overlap
	if searchStart < start {
		searchStart = start
	}
	window := runes[searchStart:hardEnd]

	for _, sep := range []string{"\n\n", "\n", ". "} {
		if idx := lastRuneIndex(window, []rune(sep)); idx >= 0 {
			return searchStart + idx + len([]rune(sep))
		}
	}
	return hardEnd
}

func lastRuneIndex(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
