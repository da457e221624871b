// Package rewrite turns a follow-up conversational turn into a
// self-contained query using recent history. A turn with no anaphoric
// reference, or no history to anchor it, passes through unchanged.
package rewrite

import (
	"regexp"
	"strings"

	"github.com/mau5law/ragcore/internal/domain"
)

// Result is the rewriter's output envelope.
type Result struct {
	OriginalQuery  string
	RewrittenQuery string
	WasRewritten   bool
	Reason         string
}

// anaphora matches pronouns and deictic references (Spanish + English) that
// signal a follow-up turn cannot stand alone without prior context.
var anaphora = regexp.MustCompile(`(?i)\b(it|that|this|those|these|they|them|he|she|him|her|the former|the latter|` +
	`eso|esto|aquello|ella|ello|lo anterior|lo mencionado)\b|(?:^|[\s¿¡])él\b`)

// Rewriter reshapes a query given the last N conversation messages.
type Rewriter struct {
	// HistoryWindow bounds how many trailing messages are consulted.
	HistoryWindow int
}

const defaultHistoryWindow = 6

// New builds a Rewriter with the default history window.
func New() *Rewriter {
	return &Rewriter{HistoryWindow: defaultHistoryWindow}
}

// Rewrite produces a self-contained query. If there is no history or the
// current turn shows no anaphoric reference, it returns the query unchanged
// with WasRewritten=false.
func (r *Rewriter) Rewrite(query string, history []domain.ConversationMessage) Result {
	result := Result{OriginalQuery: query, RewrittenQuery: query}

	if len(history) == 0 {
		result.Reason = "no conversation history"
		return result
	}
	if !anaphora.MatchString(query) {
		result.Reason = "no anaphoric reference detected"
		return result
	}

	window := history
	if r.HistoryWindow > 0 && len(window) > r.HistoryWindow {
		window = window[len(window)-r.HistoryWindow:]
	}

	lastUserTurn := lastUserMessage(window)
	if lastUserTurn == "" {
		result.Reason = "no prior user turn to anchor the reference"
		return result
	}

	result.RewrittenQuery = strings.TrimSpace(lastUserTurn + " :: " + query)
	result.WasRewritten = true
	result.Reason = "resolved anaphoric reference against prior user turn"
	return result
}

func lastUserMessage(history []domain.ConversationMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.ConversationUser {
			return history[i].Content
		}
	}
	return ""
}
