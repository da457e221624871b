package llmport

import (
	"context"
	"os"
	"strings"
)

// Select returns the deterministic fake when FAKE_LLM=1 is set, otherwise the
// supplied real generator. Deployment wiring calls this once at boot.
func Select(real Generator) Generator {
	if os.Getenv("FAKE_LLM") == "1" {
		return NewFakeGenerator("")
	}
	return real
}

// FakeGenerator is a deterministic Generator for tests: it returns its fixed
// Response whatever the prompt, split into word-sized tokens for the
// streaming path.
type FakeGenerator struct {
	Response string
}

// NewFakeGenerator builds a fake that always returns the given response, or
// a default placeholder if resp is empty.
func NewFakeGenerator(resp string) *FakeGenerator {
	if resp == "" {
		resp = "this is a fake generated answer"
	}
	return &FakeGenerator{Response: resp}
}

func (f *FakeGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return f.Response, nil
}

func (f *FakeGenerator) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan Token, error) {
	out := make(chan Token)
	words := strings.Fields(f.Response)

	go func() {
		defer close(out)
		for i, w := range words {
			select {
			case <-ctx.Done():
				return
			case out <- Token{Text: w + " ", Done: i == len(words)-1}:
			}
		}
	}()

	return out, nil
}

var _ Generator = (*FakeGenerator)(nil)
