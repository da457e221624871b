package embedding

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/mau5law/ragcore/internal/hashing"
)

// CachedEmbedder is the default Embedder: it partitions a batch into cache
// hits and unique misses, calls the provider only for the misses, repopulates
// the cache, and reconstructs the output preserving input order and
// duplicates.
type CachedEmbedder struct {
	provider   Provider
	cache      CacheBackend
	ttl        time.Duration
	maxRetries int
	baseWait   time.Duration
	limiter    *rate.Limiter
}

// NewCachedEmbedder builds a caching embedder in front of provider. The
// provider is called without a rate limit unless SetRateLimit is used.
func NewCachedEmbedder(provider Provider, cache CacheBackend, ttl time.Duration, maxRetries int, baseWait time.Duration) *CachedEmbedder {
	return &CachedEmbedder{provider: provider, cache: cache, ttl: ttl, maxRetries: maxRetries, baseWait: baseWait}
}

// SetRateLimit caps provider calls to rps requests per second with the given
// burst, so a noisy cache-miss batch cannot exceed a third-party provider's
// own quota. A non-positive rps disables limiting.
func (e *CachedEmbedder) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		e.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func (e *CachedEmbedder) cacheKey(task TaskType, text string) string {
	normalized := hashing.NormalizeText(text)
	return e.provider.ModelID() + "|" + string(task) + "|" + normalized
}

// EmbedQuery embeds a single query string, consulting the cache first.
func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, TaskTypeQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, preserving duplicates, calling the
// provider only for unique cache misses.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	// Map from cache key to the unique missed text, preserving first-seen
	// order so the provider call is deterministic.
	missIndexByKey := make(map[string]int)
	var missKeys []string
	var missTexts []string

	for i, text := range texts {
		key := e.cacheKey(task, text)
		keys[i] = key

		raw, hit, err := e.cache.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if hit {
			vec, err := decodeVector(raw)
			if err != nil {
				return nil, err
			}
			results[i] = vec
			continue
		}

		if _, seen := missIndexByKey[key]; !seen {
			missIndexByKey[key] = len(missTexts)
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) > 0 {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		fetched, err := withRetry(ctx, e.baseWait, e.maxRetries, func() ([][]float32, error) {
			return e.provider.EmbedBatch(ctx, missTexts)
		})
		if err != nil {
			return nil, err
		}

		for i, vec := range fetched {
			encoded, err := encodeVector(vec)
			if err != nil {
				return nil, err
			}
			if err := e.cache.Set(ctx, missKeys[i], encoded, e.ttl); err != nil {
				return nil, err
			}
		}

		for i, text := range texts {
			if results[i] != nil {
				continue
			}
			key := e.cacheKey(task, text)
			idx := missIndexByKey[key]
			results[i] = fetched[idx]
		}
	}

	return results, nil
}
