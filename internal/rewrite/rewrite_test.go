package rewrite

import (
	"testing"

	"github.com/mau5law/ragcore/internal/domain"
)

func TestRewriteNoHistoryLeavesQueryUnchanged(t *testing.T) {
	r := New()
	res := r.Rewrite("what about it?", nil)
	if res.WasRewritten {
		t.Fatal("expected no rewrite with empty history")
	}
	if res.RewrittenQuery != res.OriginalQuery {
		t.Fatal("rewritten query must equal original when not rewritten")
	}
}

func TestRewriteNoAnaphoraLeavesQueryUnchanged(t *testing.T) {
	r := New()
	history := []domain.ConversationMessage{{Role: domain.ConversationUser, Content: "what is the refund policy?"}}
	res := r.Rewrite("what is the shipping policy?", history)
	if res.WasRewritten {
		t.Fatal("a self-contained query with no anaphora should not be rewritten")
	}
}

func TestRewriteResolvesAnaphoraAgainstPriorTurn(t *testing.T) {
	r := New()
	history := []domain.ConversationMessage{
		{Role: domain.ConversationUser, Content: "what is the refund policy?"},
		{Role: domain.ConversationAssistant, Content: "refunds are processed within 14 days"},
	}
	res := r.Rewrite("how long does it take?", history)
	if !res.WasRewritten {
		t.Fatal("expected a rewrite given an anaphoric follow-up with history")
	}
	if res.OriginalQuery != "how long does it take?" {
		t.Fatal("original query must always be preserved in the result")
	}
}

func TestRewritePreservesOriginalQueryMetadataAlways(t *testing.T) {
	r := New()
	cases := []struct {
		query   string
		history []domain.ConversationMessage
	}{
		{"no history here", nil},
		{"it happened again", []domain.ConversationMessage{{Role: domain.ConversationUser, Content: "x"}}},
	}
	for _, c := range cases {
		res := r.Rewrite(c.query, c.history)
		if res.OriginalQuery != c.query {
			t.Fatalf("original query law violated for %q", c.query)
		}
	}
}
