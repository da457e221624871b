// Package safety implements the prompt-injection detector and the
// retrieved-chunk policy modes built on top of it. The pattern table is a
// slice of weighted, compiled regexes; the risk score in [0,1] is the
// highest weight among the patterns that match.
package safety

import (
	"regexp"
	"sort"

	"github.com/mau5law/ragcore/internal/domain"
)

// Mode selects how flagged chunks are handled after retrieval.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeDownrank Mode = "downrank"
	ModeExclude  Mode = "exclude"
)

// DefaultRiskThreshold is the risk_score at or above which ModeExclude drops
// a chunk.
const DefaultRiskThreshold = 0.6

type pattern struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// patterns covers Spanish and English instruction-override, exfiltration,
// and system-prompt-disclosure attempts.
var patterns = []pattern{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignor[ae]\s+((todas\s+)?las\s+)?instrucciones\s+(anteriores|previas)|ignore\s+(all\s+)?(previous|prior|above)\s+instructions`), 0.9},
	{"reveal_system_prompt", regexp.MustCompile(`(?i)revela(r)?\s+el\s+prompt\s+del\s+sistema|reveal\s+(the\s+)?system\s+prompt|show\s+me\s+your\s+(system\s+)?prompt`), 0.9},
	{"exfiltration", regexp.MustCompile(`(?i)env[ií]a(r)?\s+(esto|la\s+informaci[oó]n)\s+a|send\s+(this|the\s+data|these\s+credentials)\s+to|exfiltrate`), 0.8},
	{"instruction_override", regexp.MustCompile(`(?i)act[uú]a\s+como\s+si\s+no\s+tuvieras\s+restricciones|you\s+are\s+now\s+(in\s+)?(developer|unrestricted|jailbreak)\s+mode|disregard\s+(your|all)\s+(rules|guidelines)`), 0.85},
	{"benign_prompt_reference", regexp.MustCompile(`(?i)\bprompt\b|\bpromocion(al)?\b`), 0.1},
}

// Detection is the per-text output of the pattern library.
type Detection struct {
	Patterns  []string
	Flags     []string
	RiskScore float64
}

// Detect scans text against the pattern library and returns its risk
// profile. It never errors: detection is advisory only.
func Detect(text string) Detection {
	var matched []string
	var score float64
	for _, p := range patterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
			if p.weight > score {
				score = p.weight
			}
		}
	}
	if score > 1 {
		score = 1
	}
	flags := matched
	if len(flags) == 0 {
		flags = nil
	}
	return Detection{Patterns: matched, Flags: flags, RiskScore: score}
}

// FilterChunks applies mode to rankedChunks, never raising an error. Order
// within a downranked group is stable.
func FilterChunks(rankedChunks []domain.Chunk, mode Mode, threshold float64) []domain.Chunk {
	if mode == ModeOff || len(rankedChunks) == 0 {
		return rankedChunks
	}
	if threshold <= 0 {
		threshold = DefaultRiskThreshold
	}

	type scored struct {
		chunk   domain.Chunk
		flagged bool
	}
	items := make([]scored, len(rankedChunks))
	for i, c := range rankedChunks {
		d := Detect(c.Content)
		items[i] = scored{chunk: c, flagged: d.RiskScore >= threshold}
	}

	switch mode {
	case ModeExclude:
		out := make([]domain.Chunk, 0, len(items))
		for _, it := range items {
			if !it.flagged {
				out = append(out, it.chunk)
			}
		}
		return out
	case ModeDownrank:
		sort.SliceStable(items, func(i, j int) bool {
			return !items[i].flagged && items[j].flagged
		})
		out := make([]domain.Chunk, len(items))
		for i, it := range items {
			out[i] = it.chunk
		}
		return out
	default:
		return rankedChunks
	}
}
