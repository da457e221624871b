// Command worker wires the job queue to the async document processor:
// connect dependencies, then run a pool of workers that pop and dispatch
// jobs until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mau5law/ragcore/internal/config"
	"github.com/mau5law/ragcore/internal/embedding"
	"github.com/mau5law/ragcore/internal/objectstore"
	"github.com/mau5law/ragcore/internal/processor"
	"github.com/mau5law/ragcore/internal/queue"
	"github.com/mau5law/ragcore/internal/repository"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := os.Getenv("RAGCORE_DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/ragcore?sslmode=disable"
	}
	repo, err := repository.New(ctx, dsn, logger)
	if err != nil {
		logger.Fatal("connect repository", zap.Error(err))
	}
	defer repo.Close()

	redisURL := os.Getenv("RAGCORE_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://127.0.0.1:6379/0"
	}
	cache, err := embedding.NewRedisCache(redisURL)
	if err != nil {
		logger.Fatal("connect embedding cache", zap.Error(err))
	}
	defer cache.Close()

	provider := selectEmbeddingProvider(logger)
	embedder := embedding.NewCachedEmbedder(provider, cache, cfg.Embedding.CacheTTL, cfg.Embedding.MaxRetries, cfg.Embedding.RetryBaseWait)
	embedder.SetRateLimit(cfg.Embedding.RateLimitRPS, cfg.Embedding.RateLimitBurst)

	q, err := queue.NewRedisQueue(ctx, redisURL)
	if err != nil {
		logger.Fatal("connect queue", zap.Error(err))
	}
	defer q.Close()

	store := objectstore.NewFakeStore() // swap for a configured storage client in production wiring

	parsers := []processor.Parser{processor.PlainTextParser{}, processor.PDFParser{}, processor.DOCXParser{}}
	buildNodes := os.Getenv("RAGCORE_BUILD_NODES") == "true"
	p := processor.New(repo, store, embedder, parsers, buildNodes, logger)

	logger.Info("worker starting", zap.Int("workers", cfg.Processor.WorkerCount))

	done := make(chan struct{})
	for i := 0; i < cfg.Processor.WorkerCount; i++ {
		go func(id int) {
			p.Run(ctx, q)
			done <- struct{}{}
		}(i)
	}

	<-ctx.Done()
	logger.Info("worker shutting down")
	for i := 0; i < cfg.Processor.WorkerCount; i++ {
		<-done
	}
}

// selectEmbeddingProvider honors FAKE_EMBED=1 for local/dev/test runs. This
// binary ships no real provider client; production deployments wire their own
// behind the embedding.Provider port, so anything else is a refusal rather
// than a silent fake.
func selectEmbeddingProvider(logger *zap.Logger) embedding.Provider {
	if os.Getenv("FAKE_EMBED") != "1" {
		logger.Fatal("no embedding provider configured; set FAKE_EMBED=1 for local runs or wire a real provider")
	}
	logger.Info("using fake embedding provider")
	return embedding.NewFakeProvider()
}
